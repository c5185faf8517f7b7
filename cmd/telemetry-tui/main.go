// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command telemetry-tui is a live, read-only dashboard over a running
// telemetry client's in-memory state, for operators who want to watch
// what a device is about to report without waiting for it to upload.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	telemetry "github.com/equalitie/ouinet-telemetry"
	"github.com/equalitie/ouinet-telemetry/internal/config"
	"github.com/equalitie/ouinet-telemetry/internal/telemetrytui"
)

func main() {
	configPath := flag.String("config", "", "Path to the telemetry HCL config file (default: built-in defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	client, err := telemetry.NewClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start telemetry client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	p := tea.NewProgram(telemetrytui.New(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui error: %v\n", err)
		os.Exit(1)
	}
}
