package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/xcwatch/internal/history"
)

var historyCmd = &cobra.Command{
	Use:          "history",
	Short:        "Show recorded builds",
	RunE:         runHistory,
	SilenceUsage: true,
}

func init() {
	historyCmd.Flags().Bool("clear", false, "Delete all recorded builds")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open("")
	if err != nil {
		return err
	}
	defer store.Close()

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		if err := store.Clear(); err != nil {
			return err
		}

		fmt.Println("History cleared")

		return nil
	}

	records, err := store.List()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No builds recorded")
		return nil
	}

	for _, r := range records {
		outcome := "ok"
		if !r.Succeeded {
			outcome = "failed"
		}

		fmt.Printf("%s  %-30s %8s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Project,
			r.Duration.Round(time.Second),
			outcome)
	}

	return nil
}
