package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func authCmd() *cobra.Command {
	var (
		clientID string
		secret   string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange a client secret for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, "")
			resp, err := c.do("POST", "/auth/token", map[string]string{
				"clientId": clientID,
				"secret":   secret,
			})
			if err != nil {
				return err
			}
			var out map[string]string
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			fmt.Println(out["token"])
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "registered client id (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "client shared secret (required)")
	cmd.MarkFlagRequired("client-id")
	cmd.MarkFlagRequired("secret")

	return cmd
}
