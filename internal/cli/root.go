// Package cli implements the chatsyncctl command tree. Commands talk to
// a running chatsyncd over its WebSocket gateway, except for outbox
// inspection which reads the database directly.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"chatsync/internal/config"
)

var (
	cfgFile string

	// loaded by the persistent pre-run
	cfg     *config.Config
	cfgPath string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatsyncctl",
		Short: "Control a running chatsync daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgPath = cfgFile
			if cfgPath == "" {
				cfgPath = config.ConfigPath()
			}
			loaded, err := config.Load(cfgPath)
			if err != nil {
				if !os.IsNotExist(err) {
					return err
				}
				loaded = &config.Config{}
				loaded.Defaults()
			}
			cfg = loaded
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatsync/config.toml)")

	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSendCmd())
	cmd.AddCommand(newChatsCmd())
	cmd.AddCommand(newOutboxCmd())
	cmd.AddCommand(newRetryCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
