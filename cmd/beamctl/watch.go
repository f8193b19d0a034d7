package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var replay bool

	cmd := &cobra.Command{
		Use:   "watch <jobId>",
		Short: "Tail a job's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchJob(args[0], replay)
		},
	}
	cmd.Flags().BoolVar(&replay, "replay", false, "also deliver the job's buffered history before new events")

	return cmd
}

func watchJob(jobID string, replay bool) error {
	wsURL, err := toWebSocketURL(serverAddr, jobID, replay)
	if err != nil {
		return err
	}

	header := map[string][]string{}
	if authToken != "" {
		header["Authorization"] = []string{"Bearer " + authToken}
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		fmt.Println(string(message))
	}
}

func toWebSocketURL(base, jobID string, replay bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing server address: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/jobs/" + jobID + "/events"
	if replay {
		u.RawQuery = "replay=true"
	}
	return u.String(), nil
}
