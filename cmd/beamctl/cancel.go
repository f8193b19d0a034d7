package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Cancel a running job (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(serverAddr, authToken)
			if _, err := c.do("POST", "/jobs/"+args[0]+"/cancel", nil); err != nil {
				return err
			}
			fmt.Println("cancelled", args[0])
			return nil
		},
	}
}
