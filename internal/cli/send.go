package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/internal/gateway"
	"chatsync/internal/model"
)

func newSendCmd() *cobra.Command {
	var sender string

	cmd := &cobra.Command{
		Use:   "send <chat-id> <text>...",
		Short: "Queue a message for delivery",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from := sender
			if from == "" {
				from = cfg.UserID
			}
			if from == "" {
				return fmt.Errorf("no sender: set user_id in %s or pass --from", cfgPath)
			}

			c, err := dialGateway(cfg.GatewayAddr)
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.roundTrip(gateway.Command{
				Op:       "submit",
				ChatID:   args[0],
				Text:     strings.Join(args[1:], " "),
				SenderID: from,
			})
			if err != nil {
				return err
			}

			var msg model.Message
			if err := decodePayload(reply, &msg); err != nil {
				return err
			}
			fmt.Printf("queued %s\n", msg.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sender, "from", "", "sender id (default user_id from config)")
	return cmd
}
