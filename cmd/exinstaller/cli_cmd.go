package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Manage the Arduino CLI",
}

var cliInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the supported Arduino CLI with its platforms and libraries",
	RunE:  runCLIInstall,
}

var cliVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the installed Arduino CLI version",
	RunE:  runCLIVersion,
}

var cliBoardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List attached devices",
	RunE:  runCLIBoards,
}

var cliPlatformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List installed platforms",
	RunE:  runCLIPlatforms,
}

var cliLibrariesCmd = &cobra.Command{
	Use:   "libraries",
	Short: "List installed libraries",
	RunE:  runCLILibraries,
}

var cliUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Refresh the platform index and upgrade installed platforms",
	RunE:  runCLIUpgrade,
}

var forceReinstall bool

// setupStep is one Arduino CLI call of "cli install".
type setupStep struct {
	label string
	run   func(q *worker.Queue)
}

func init() {
	cliCmd.AddCommand(cliInstallCmd, cliVersionCmd, cliBoardsCmd, cliPlatformsCmd, cliLibrariesCmd, cliUpgradeCmd)

	cliInstallCmd.Flags().BoolVar(&forceReinstall, "force", false, "reinstall the Arduino CLI even if the supported version is present")
}

// interruptible returns a context cancelled by Ctrl-C.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func runCLIInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()
	m := svc.arduino

	if m.IsInstalled() {
		q := worker.NewQueue()
		m.GetVersion(q)
		msg, err := await(ctx, q)
		v := ""
		if err == nil {
			v, _ = arduino.ParseVersion(msg.Data)
		}
		if v != "" && arduino.SupportedVersion(v) && !forceReinstall {
			fmt.Printf("✓ Arduino CLI %s is installed at %s\n", v, m.CLIPath())
		} else {
			fmt.Printf("Removing Arduino CLI %s\n", v)
			if err := arduino.DeleteCLI(m.CLIPath()); err != nil {
				return err
			}
			svc.record(ctx, "reinstall_cli", map[string]string{"found": v, "want": arduino.CLIVersion}, "deleted", m.CLIPath())
		}
	}

	if !m.IsInstalled() {
		fmt.Printf("Downloading Arduino CLI %s...\n", arduino.CLIVersion)
		q := worker.NewQueue()
		m.DownloadCLI(q)
		msg, err := await(ctx, q)
		if err != nil {
			return err
		}
		fmt.Println("Extracting...")
		m.InstallCLI(worker.DataString(msg.Data), q)
		if _, err := await(ctx, q); err != nil {
			return err
		}
		svc.record(ctx, "install_cli", map[string]string{"version": arduino.CLIVersion}, "success", m.CLIPath())
		fmt.Printf("✓ Installed Arduino CLI to %s\n", m.CLIPath())
	}

	steps := []setupStep{
		{"Initialising configuration", m.InitialiseConfig},
		{"Updating the platform index", m.UpdateIndex},
	}
	for _, p := range arduino.AllPlatforms() {
		pkg := p.Package()
		steps = append(steps, setupStep{"Installing " + p.Name + " " + p.Version, func(q *worker.Queue) { m.InstallPackage(pkg, q) }})
	}
	for _, l := range arduino.Libraries {
		lib := l.Package()
		steps = append(steps, setupStep{"Installing library " + l.Name + " " + l.Version, func(q *worker.Queue) { m.InstallLibrary(lib, q) }})
	}

	for _, s := range steps {
		fmt.Println(s.label + "...")
		q := worker.NewQueue()
		s.run(q)
		if _, err := await(ctx, q); err != nil {
			return err
		}
	}
	fmt.Println("✓ Arduino CLI and packages are ready")
	return nil
}

func runCLIVersion(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	q := worker.NewQueue()
	svc.arduino.GetVersion(q)
	msg, err := await(ctx, q)
	if err != nil {
		return err
	}
	v, err := arduino.ParseVersion(msg.Data)
	if err != nil {
		return err
	}
	supported := "supported"
	if !arduino.SupportedVersion(v) {
		supported = "unsupported, run 'exinstaller cli install' to replace it"
	}
	fmt.Printf("Arduino CLI %s (%s)\n", v, supported)
	fmt.Printf("  Path: %s\n", svc.arduino.CLIPath())
	return nil
}

func runCLIBoards(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	q := worker.NewQueue()
	svc.arduino.ListBoards(q)
	msg, err := await(ctx, q)
	if err != nil {
		return err
	}
	devices, err := arduino.ParseBoardList(msg.Data)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tBOARD\tFQBN")
	for _, d := range devices {
		board := d.Board()
		name := board.Name
		if !d.Known() {
			name = d.Describe()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Port, name, board.FQBN)
	}
	return w.Flush()
}

func runCLIPlatforms(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	q := worker.NewQueue()
	svc.arduino.GetPlatforms(q)
	msg, err := await(ctx, q)
	if err != nil {
		return err
	}
	fmt.Println(worker.DataString(msg.Data))
	return nil
}

func runCLILibraries(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	q := worker.NewQueue()
	svc.arduino.GetLibraries(q)
	msg, err := await(ctx, q)
	if err != nil {
		return err
	}
	fmt.Println(worker.DataString(msg.Data))
	return nil
}

func runCLIUpgrade(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()
	m := svc.arduino

	steps := []setupStep{
		{"Updating the platform index", m.UpdateIndex},
		{"Upgrading platforms", m.UpgradePlatforms},
	}
	for _, s := range steps {
		fmt.Println(s.label + "...")
		q := worker.NewQueue()
		s.run(q)
		if _, err := await(ctx, q); err != nil {
			return err
		}
	}
	fmt.Println("✓ Platforms are up to date")
	return nil
}
