package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded tool runs and installs",
	RunE:  runHistory,
}

var (
	historyLimit    int
	historyInstalls bool
	historyProduct  string
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyInstalls, "installs", false, "show installs instead of tool runs")
	historyCmd.Flags().StringVar(&historyProduct, "product", "", "only show installs of this product")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if historyInstalls {
		installs, err := svc.store.ListInstalls(ctx, historyProduct, historyLimit)
		if err != nil {
			return err
		}
		if len(installs) == 0 {
			fmt.Println("No installs recorded.")
			return nil
		}
		fmt.Fprintln(w, "INSTALLED\tPRODUCT\tVERSION\tDEVICE\tPORT")
		for _, in := range installs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				in.InstalledAt.Local().Format("2006-01-02 15:04"), in.Product, in.Version, in.Device, in.Port)
		}
		return w.Flush()
	}

	runs, err := svc.store.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	fmt.Fprintln(w, "STARTED\tTOOL\tCOMMAND\tSTATUS\tTOOK\tTOPIC")
	for _, r := range runs {
		command := strings.TrimSpace(r.Name + " " + strings.Join(r.Args, " "))
		if len(command) > 50 {
			command = command[:47] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Tool, command, r.Status,
			r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond), r.Topic)
	}
	return w.Flush()
}
