package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatsync/internal/gateway"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <msg-id>",
		Short: "Retry a failed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialGateway(cfg.GatewayAddr)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.roundTrip(gateway.Command{Op: "retry", MsgID: args[0]}); err != nil {
				return err
			}
			fmt.Printf("retrying %s\n", args[0])
			return nil
		},
	}
}
