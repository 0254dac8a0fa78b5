package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:          "scan",
	Short:        "List DerivedData projects and their sizes",
	RunE:         runScan,
	SilenceUsage: true,
}

func init() {
	scanCmd.Flags().Bool("progressive", false, "Stream partial results while sizes are computed")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg.Verbose)

	s := scanner.New(cfg.DerivedDataPath, slog.Default())

	progressive, _ := cmd.Flags().GetBool("progressive")
	if progressive {
		for snap := range s.ScanIncremental(context.Background()) {
			printSnapshot(snap)
			fmt.Println()
		}

		return nil
	}

	printSnapshot(s.ScanFull())

	return nil
}

func printSnapshot(snap scanner.Snapshot) {
	if len(snap.Projects) == 0 {
		fmt.Println("No projects found")
		return
	}

	for _, p := range snap.Projects {
		fmt.Printf("%-40s %10s   %s\n",
			p.DisplayName,
			humanize.IBytes(uint64(p.Size)),
			p.ModTime.Format("2006-01-02 15:04"))
	}

	fmt.Printf("%-40s %10s\n", "total", humanize.IBytes(uint64(snap.TotalSize)))
}
