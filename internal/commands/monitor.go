package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/proctor/internal/db"
	"github.com/balkashynov/proctor/internal/monitor"
	"github.com/balkashynov/proctor/internal/parser"
	"github.com/balkashynov/proctor/internal/tui"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch active exams live",
	Long: `Watch every active exam session: elapsed time, violations, snapshots and
heartbeats. The list follows writes from every exam process on this
machine as they happen.

Quick actions:
  ↑/↓           Select a session
  w             Send a warning (counts as a violation)
  f             Force-end the exam
  r             Refresh now
  q/esc         Quit

Examples:
  proctor monitor            # Live screen
  proctor monitor --once     # Print the list and exit
  proctor monitor --json     # Print the list and stats as JSON`,
	Args: cobra.NoArgs,
	Run:  withApp(monitorQuiet, runMonitor),
}

func init() {
	monitorCmd.Flags().Bool("once", false, "Print the active list once and exit")
	monitorCmd.Flags().Bool("json", false, "JSON output (implies --once)")
	monitorCmd.Flags().Bool("no-ui", false, "Print the list on every change instead of the live screen")
}

func monitorQuiet(cmd *cobra.Command) bool {
	once, _ := cmd.Flags().GetBool("once")
	asJSON, _ := cmd.Flags().GetBool("json")
	return once || asJSON || interactive(cmd)
}

func newAggregator(a *app, changes <-chan struct{}) (*monitor.Aggregator, error) {
	return monitor.New(monitor.Config{
		Store:            a.store,
		Directory:        a.users,
		Submissions:      a.results,
		Blobs:            a.blobs,
		Bus:              a.bus,
		Changes:          changes,
		Logger:           a.logger,
		PollInterval:     a.cfg.PollInterval(),
		StaleAfter:       a.cfg.StaleAfter(),
		SnapshotCapacity: a.cfg.Exam.SnapshotCapacity,
	})
}

func runMonitor(ctx context.Context, cmd *cobra.Command, _ []string, a *app) error {
	once, _ := cmd.Flags().GetBool("once")
	asJSON, _ := cmd.Flags().GetBool("json")

	if once || asJSON {
		agg, err := newAggregator(a, nil)
		if err != nil {
			return err
		}
		views, err := agg.Refresh(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(struct {
				Stats    monitor.Stats               `json:"stats"`
				Sessions []monitor.ActiveSessionView `json:"sessions"`
			}{agg.Stats(), views})
		}
		printViews(views, agg.Stats())
		return nil
	}

	watcher := db.NewWatcher(db.DatabasePath(a.cfg.HomeDir), a.logger)
	var changes <-chan struct{}
	if err := watcher.Start(ctx); err != nil {
		a.logger.Warn("file watching unavailable, polling only", "error", err)
	} else {
		changes = watcher.Events()
	}

	agg, err := newAggregator(a, changes)
	if err != nil {
		return err
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = agg.Run(runCtx) }()

	if interactive(cmd) {
		return tui.RunMonitorTUI(ctx, agg)
	}

	updates, cancel := agg.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case views := <-updates:
			fmt.Printf("\n%s\n", time.Now().Format("15:04:05"))
			printViews(views, agg.Stats())
		}
	}
}

func printViews(views []monitor.ActiveSessionView, stats monitor.Stats) {
	if len(views) == 0 {
		fmt.Println("No active exams.")
		return
	}

	fmt.Printf("%-12s %-24s %-10s %-8s %-8s %-5s %s\n", "KEY", "NAME", "ROLL", "BRANCH", "ELAPSED", "VIOL", "LAST SEEN")
	fmt.Println(strings.Repeat("-", 86))
	now := time.Now()
	for _, v := range views {
		name := v.DisplayName
		if len(name) > 22 {
			name = name[:19] + "..."
		}
		seen := parser.FormatAgo(v.LastActivity, now)
		if v.Stale {
			seen += " (stale)"
		}
		fmt.Printf("%-12s %-24s %-10s %-8s %-8s %-5d %s\n",
			v.StudentKey, name, v.RollNumber, v.Branch, parser.FormatRemaining(v.Elapsed), v.ViolationCount, seen)
	}
	fmt.Printf("\n%d active, %d warnings across %d students", stats.Active, stats.TotalWarnings, stats.StudentsWarned)
	if stats.Stale > 0 {
		fmt.Printf(", %d stale", stats.Stale)
	}
	fmt.Println()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
