package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dcc-ex/exinstaller/internal/arduino"
	"github.com/dcc-ex/exinstaller/internal/models"
	"github.com/dcc-ex/exinstaller/internal/product"
	"github.com/dcc-ex/exinstaller/internal/worker"
)

var buildCmd = &cobra.Command{
	Use:   "build [product]",
	Short: "Compile a downloaded product and optionally upload it",
	Long: `Compiles the checked out version of a product for a board. With --upload the
result is uploaded to the device on --port and recorded in the install
history.`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

var (
	buildFQBN      string
	buildDevice    string
	buildPort      string
	buildUpload    bool
	buildConfigDir string
)

func init() {
	buildCmd.Flags().StringVar(&buildFQBN, "fqbn", "", "fully qualified board name, e.g. arduino:avr:mega")
	buildCmd.Flags().StringVar(&buildDevice, "device", "", "supported device name, instead of --fqbn")
	buildCmd.Flags().StringVar(&buildPort, "port", "", "serial port of the device")
	buildCmd.Flags().BoolVar(&buildUpload, "upload", false, "upload after compiling")
	buildCmd.Flags().StringVar(&buildConfigDir, "config-dir", "", "directory holding existing config files to copy in first")
	buildCmd.MarkFlagsMutuallyExclusive("fqbn", "device")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := interruptible(cmd)
	defer cancel()

	p, err := svc.catalog.Get(args[0])
	if err != nil {
		return err
	}
	board, err := resolveBoard(p)
	if err != nil {
		return err
	}
	if buildUpload && buildPort == "" {
		return fmt.Errorf("--port is required with --upload")
	}

	dir := p.Dir(svc.cfg.RepoDir)
	if buildConfigDir != "" {
		if err := product.ValidateConfigDir(buildConfigDir, dir, p); err != nil {
			return err
		}
		names := product.GetConfigFiles(buildConfigDir, p.ConfigFiles())
		if failed := product.CopyConfigFiles(buildConfigDir, dir, names); len(failed) > 0 {
			return fmt.Errorf("could not copy config files %v to %s", failed, dir)
		}
		fmt.Printf("Using config files: %v\n", names)
	}

	fmt.Printf("Compiling %s for %s...\n", p.Name, board.Name)
	q := worker.NewQueue()
	svc.arduino.CompileSketch(board.FQBN, dir, q)
	msg, err := await(ctx, q)
	if err != nil {
		return err
	}
	fmt.Println(worker.DataString(msg.Data))
	if !buildUpload {
		return nil
	}

	fmt.Printf("Uploading to %s on %s...\n", board.Name, buildPort)
	svc.arduino.UploadSketch(board.FQBN, buildPort, dir, q)
	msg, err = await(ctx, q)
	if err != nil {
		return err
	}
	fmt.Println(worker.DataString(msg.Data))

	in := models.Install{Product: p.Key, Device: board.Name, FQBN: board.FQBN, Port: buildPort}
	if repo, err := svc.git.GetRepo(dir); err == nil {
		if head, err := repo.Head(); err == nil {
			in.Version = head.Hash().String()[:7]
			if head.Name().IsBranch() {
				in.Version = head.Name().Short()
			}
		}
	}
	svc.record(ctx, "upload", in, "success", dir)
	if _, err := svc.store.SaveInstall(ctx, in); err != nil {
		slog.Error("failed to record install", "error", err)
	}
	fmt.Printf("✓ %s installed on %s\n", p.Name, board.Name)
	return nil
}

// resolveBoard picks the board from --fqbn or --device and checks the
// product supports it.
func resolveBoard(p product.Product) (arduino.Board, error) {
	var board arduino.Board
	switch {
	case buildDevice != "":
		d, ok := arduino.LookupDevice(buildDevice)
		if !ok {
			return board, fmt.Errorf("unsupported device: %s", buildDevice)
		}
		board = arduino.Board{Name: d.Name, FQBN: d.FQBN}
	case buildFQBN != "":
		board = arduino.Board{Name: buildFQBN, FQBN: buildFQBN}
	default:
		return board, fmt.Errorf("one of --fqbn or --device is required")
	}
	if !p.Supports(board.FQBN) {
		return board, fmt.Errorf("%s does not support %s", p.Name, board.Name)
	}
	return board, nil
}
