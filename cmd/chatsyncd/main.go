package main

import (
	"flag"
	"fmt"
	"os"

	"chatsync/internal/config"
	"chatsync/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (default ~/.chatsync/config.toml)")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	if err := config.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ConfigPath: configPath}),
	)

	app.Run()
}
