package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type tokenRequest struct {
	ClientID string `json:"clientId" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
}

// issueTokenHandler exchanges a registered client's shared secret for a
// bearer token. Unauthenticated by design: the secret itself is the
// credential. The exchange works whenever the client is registered in the
// auth config, whether or not auth is enabled; unknown clients and wrong
// secrets get 401.
func (s *Server) issueTokenHandler(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := s.authMgr.IssueWithSecret(req.ClientID, req.Secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
