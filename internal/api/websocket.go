package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/beamforge/beamforge/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// eventsHandler upgrades to a WebSocket connection and streams jobID's
// events as they are published. ?replay=true additionally delivers the
// job's buffered history first, supporting reconnection after a dropped
// connection.
func (s *Server) eventsHandler(c *gin.Context) {
	jobID := c.Param("id")
	replay, _ := strconv.ParseBool(c.Query("replay"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(jobID, replay, 256)
	defer sub.Unsubscribe()

	for event := range sub.C {
		if err := s.writeEvent(conn, event); err != nil {
			s.logger.Debug("websocket write failed, closing", "job_id", jobID, "error", err)
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, event eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
