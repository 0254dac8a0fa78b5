package cmd

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xcwatch/internal/config"
	"github.com/Norgate-AV/xcwatch/internal/project"
	"github.com/Norgate-AV/xcwatch/internal/scanner"
)

var cleanCmd = &cobra.Command{
	Use:          "clean [project]",
	Short:        "Delete DerivedData projects",
	Long:         `Delete one project by name, or every project older than a given number of days.`,
	RunE:         runClean,
	SilenceUsage: true,
	Args:         cobra.MaximumNArgs(1),
}

func init() {
	cleanCmd.Flags().Int("older-than", 0, "Delete projects not modified within this many days")
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	setupLogging(cfg.Verbose)

	s := scanner.New(cfg.DerivedDataPath, slog.Default())

	days, _ := cmd.Flags().GetInt("older-than")
	if days > 0 {
		deleted := s.DeleteOlderThan(days)
		fmt.Printf("Deleted %d project(s) older than %d day(s)\n", deleted, days)

		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("requires a project name or --older-than")
	}

	p, ok := findProject(s.ScanFull(), args[0])
	if !ok {
		return fmt.Errorf("no project named %q", args[0])
	}

	if err := s.Delete(p); err != nil {
		return fmt.Errorf("failed to delete %s: %w", p.DisplayName, err)
	}

	fmt.Printf("Deleted %s (%s)\n", p.DisplayName, humanize.IBytes(uint64(p.Size)))

	return nil
}

// findProject matches by directory name first, then by display name.
func findProject(snap scanner.Snapshot, name string) (project.Project, bool) {
	for _, p := range snap.Projects {
		if p.Name == name {
			return p, true
		}
	}

	for _, p := range snap.Projects {
		if p.DisplayName == name {
			return p, true
		}
	}

	return project.Project{}, false
}
