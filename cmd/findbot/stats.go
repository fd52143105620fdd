package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/findbot/findbot/pkg/journal"
)

func newStatsCmd() *cobra.Command {
	var (
		day      string
		chatID   string
		category string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise published finds from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if day == "" {
				day = journal.DayKey(time.Now())
			} else if _, err := time.Parse("2006-01-02", day); err != nil {
				return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
			}

			store, err := journal.NewStore(cfg.JournalPath())
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			records := store.Query(journal.Filter{
				ChatID:   chatID,
				DayKey:   day,
				Category: category,
			})

			fmt.Fprint(cmd.OutOrStdout(), journal.FormatSummary("Finds for "+day, records))
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "Day to summarise (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&chatID, "chat", "", "Only count finds from this chat")
	cmd.Flags().StringVar(&category, "category", "", "Only count finds in this category")

	return cmd
}
