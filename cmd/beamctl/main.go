// Command beamctl is a CLI client for beamforged: submit jobs, cancel them,
// tail their events, and inspect limiter state.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	authToken  string
)

func main() {
	root := &cobra.Command{
		Use:   "beamctl",
		Short: "CLI client for beamforged",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8090", "beamforged base URL")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token, if the server requires auth")

	root.AddCommand(submitCmd(), cancelCmd(), watchCmd(), limiterStatusCmd(), authCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "beamctl:", err)
		os.Exit(1)
	}
}
