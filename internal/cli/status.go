package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/gateway"
	"chatsync/internal/model"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon configuration and reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Config:    %s\n", cfgPath)
			fmt.Printf("Database:  %s\n", config.DBPath())
			fmt.Printf("Logs:      %s\n", config.LogPath())
			fmt.Printf("User:      %s\n", valueOr(cfg.UserID, "(not set)"))
			fmt.Printf("Transport: %s\n", valueOr(cfg.TransportURL, "(in-memory)"))
			fmt.Printf("Gateway:   %s\n", cfg.GatewayAddr)

			c, err := dialGateway(cfg.GatewayAddr)
			if err != nil {
				fmt.Println("Daemon:    not running")
				return nil
			}
			defer c.Close()

			reply, err := c.roundTrip(gateway.Command{Op: "summaries"})
			if err != nil {
				return err
			}
			var sums []model.ChatSummary
			if err := decodePayload(reply, &sums); err != nil {
				return err
			}
			pending := 0
			for _, s := range sums {
				pending += s.PendingCount
			}
			fmt.Printf("Daemon:    running, %d chats watched, %d pending\n", len(sums), pending)
			return nil
		},
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
