package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func limiterStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limiter-status",
		Short: "Show active/queued/limit for every capability limiter",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, authToken)
			resp, err := c.do("GET", "/limiters", nil)
			if err != nil {
				return err
			}
			var status map[string]any
			if err := json.Unmarshal(resp, &status); err != nil {
				return fmt.Errorf("parsing response: %w", err)
			}
			for name, metrics := range status {
				fmt.Printf("%s: %v\n", name, metrics)
			}
			return nil
		},
	}
}
