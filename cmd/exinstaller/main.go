package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/dcc-ex/exinstaller/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0-dev"

var cfgFile string

// svc is built by PersistentPreRunE for every command that needs it.
var svc *services

var rootCmd = &cobra.Command{
	Use:   "exinstaller",
	Short: "DCC-EX installer",
	Long: `exinstaller installs DCC-EX products such as EX-CommandStation onto Arduino
compatible boards. It manages its own copy of the Arduino CLI, downloads the
product source and compiles and uploads it to the attached device.

Run without arguments in a terminal to start the interactive wizard.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		svc, err = newServices(cfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if svc != nil {
			svc.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return cmd.Help()
		}
		return runTUI(cmd, args)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .exinstaller.yaml in the current or home directory)")
	rootCmd.PersistentFlags().String("install-dir", "", "directory for the Arduino CLI, product repositories and logs")
	rootCmd.PersistentFlags().Bool("debug", false, "write debug messages to the log file")
	rootCmd.PersistentFlags().Bool("fake", false, "offer a fake device when none is attached")
	_ = viper.BindPFlag("install_dir", rootCmd.PersistentFlags().Lookup("install-dir"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("fake", rootCmd.PersistentFlags().Lookup("fake"))

	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(cliCmd)
	rootCmd.AddCommand(productCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".exinstaller")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file is optional; ignore "not found" errors.
	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
