package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/gateway"
	"chatsync/internal/model"
)

func newChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chat summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialGateway(cfg.GatewayAddr)
			if err != nil {
				return err
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
			if len(sums) == 0 {
				fmt.Println("no chats watched")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tNAME\tUNREAD\tPENDING\tLAST")
			for _, s := range sums {
				last := s.LastMessage
				if s.LastMessageAt > 0 {
					at := time.UnixMilli(s.LastMessageAt).Format("15:04")
					last = fmt.Sprintf("%s (%s)", last, at)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					s.ChatID, s.ContactName, s.UnreadCount, s.PendingCount, last)
			}
			return w.Flush()
		},
	}
}
