package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/store"
)

func newOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List undelivered messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Reads the database directly so the outbox is inspectable
			// even when the daemon is down.
			db, err := store.Open(config.DBPath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = db.Close() }()

			entries, err := db.AllOutbox()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("outbox empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHAT\tSTATUS\tATTEMPTS\tQUEUED\tTEXT")
			for _, e := range entries {
				queued := time.UnixMilli(e.Timestamp).Format("Jan 02 15:04")
				text := e.Text
				if len(text) > 40 {
					text = text[:37] + "..."
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.ChatID, e.Status, e.Attempts, queued, text)
			}
			return w.Flush()
		},
	}
}
