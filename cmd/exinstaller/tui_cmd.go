package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive installer",
	RunE:  runTUI,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of exinstaller",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("exinstaller version %s\n", Version)
		fmt.Printf("  Arduino CLI: %s\n", arduino.CLIVersion)
		fmt.Printf("  OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Go version: %s\n", runtime.Version())
	},
}

func runTUI(cmd *cobra.Command, args []string) error {
	app := tui.New(tui.Deps{
		Arduino:      svc.arduino,
		Git:          svc.git,
		Catalog:      svc.catalog,
		Store:        svc.store,
		Audit:        svc.audit,
		RepoDir:      svc.cfg.RepoDir,
		Fake:         svc.cfg.Fake,
		PollInterval: svc.cfg.PollInterval,
	})
	if err := app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
