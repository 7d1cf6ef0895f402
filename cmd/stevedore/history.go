package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/artpar/stevedore/internal/core/pipeline"
	"github.com/artpar/stevedore/internal/shell/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded deployment runs",
	Long:  `Show recent deployment runs, newest first, with their outcome and duration.`,
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.Int("limit", 20, "maximum number of runs to list")
	f.String("app", "", "only show runs for one application")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	appName, _ := cmd.Flags().GetString("app")

	store, err := history.NewStore(cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var records []history.Record
	if appName != "" {
		records, err = store.ListByApp(ctx, appName, limit)
	} else {
		records, err = store.List(ctx, limit)
	}
	if err != nil {
		return err
	}

	printRuns(records)
	return nil
}

func printRuns(records []history.Record) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	if len(records) == 0 {
		fmt.Println(gray("No runs recorded"))
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, rec := range records {
		icon, paint := "●", green
		switch rec.Status {
		case pipeline.RunStatusFailed:
			icon, paint = "✗", red
		case pipeline.RunStatusRejected:
			icon, paint = "○", yellow
		}

		duration := ""
		if d := rec.Duration(); d > 0 {
			duration = " (" + d.Round(time.Second).String() + ")"
		}

		fmt.Printf("%s %s  %s  %s%s\n",
			paint(icon),
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.AppName,
			paint(string(rec.Status)),
			duration)

		ref := rec.Branch
		if commit := rec.Commit; commit != "" {
			if len(commit) > 7 {
				commit = commit[:7]
			}
			ref += " @ " + commit
		}
		fmt.Printf("    %s  %s\n", rec.Host, gray(ref))

		if rec.Error != "" {
			fmt.Printf("    %s\n", gray(rec.Error))
		}
	}
}
