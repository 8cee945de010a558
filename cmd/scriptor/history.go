package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scriptor/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recordings, runs and script files",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyLimit int
	historyStats bool
	historyPrune time.Duration
)

func init() {
	f := historyCmd.Flags()
	f.IntVarP(&historyLimit, "limit", "n", 20, "entries per table (0 for all)")
	f.BoolVar(&historyStats, "stats", false, "print totals over the whole history")
	f.DurationVar(&historyPrune, "prune", 0, "delete entries older than this (e.g. 720h) before listing")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return errors.New("history store is disabled in the config")
	}
	if _, err := os.Stat(cfg.Store.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Println("No history recorded yet.")
		return nil
	}

	st, err := store.Open(cfg.Store.Path, time.Duration(cfg.Store.BusyTimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	defer st.Close()

	if historyPrune > 0 {
		n, err := st.Prune(time.Now().Add(-historyPrune))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d entries older than %s\n\n", n, historyPrune)
	}

	return printHistory(cmd.OutOrStdout(), st, historyLimit, historyStats)
}

func printHistory(w io.Writer, st *store.Store, limit int, stats bool) error {
	recs, err := st.Recordings(limit)
	if err != nil {
		return err
	}
	runs, err := st.Runs(limit)
	if err != nil {
		return err
	}
	files, err := st.ScriptFiles(limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "=== Recordings ===")
	if len(recs) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		fmt.Fprintf(w, "%-20s %-8s %s\n", "Started", "Events", "Length")
		fmt.Fprintln(w, strings.Repeat("-", 42))
		for _, r := range recs {
			fmt.Fprintf(w, "%-20s %-8d %s\n", r.Started.Format("2006-01-02 15:04:05"), r.Events, r.Duration().Round(time.Millisecond))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Runs ===")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		fmt.Fprintf(w, "%-20s %-16s %-7s %-7s %-9s %-8s %s\n", "Started", "Script", "Events", "Passes", "Injected", "Result", "Length")
		fmt.Fprintln(w, strings.Repeat("-", 84))
		for _, r := range runs {
			fmt.Fprintf(w, "%-20s %-16s %-7d %-7d %-9d %-8s %s\n",
				r.Started.Format("2006-01-02 15:04:05"),
				scriptColumn(r.Script),
				r.Events, r.Passes, r.Injected,
				runResult(r),
				r.Duration().Round(time.Millisecond))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Script files ===")
	if len(files) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		for _, f := range files {
			fmt.Fprintf(w, "%-20s %-5s %6d events  %s\n", f.At.Format("2006-01-02 15:04:05"), f.Op, f.Events, f.Path)
		}
	}

	if !stats {
		return nil
	}
	s, err := st.GetStats()
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Totals ===")
	fmt.Fprintf(w, "  Recordings:        %d (%d events)\n", s.Recordings, s.RecordedEvents)
	fmt.Fprintf(w, "  Runs:              %d (%d halted)\n", s.Runs, s.HaltedRuns)
	fmt.Fprintf(w, "  Injected events:   %d\n", s.InjectedEvents)
	fmt.Fprintf(w, "  Failed injections: %d\n", s.FailedInjections)
	fmt.Fprintf(w, "  Script files:      %d\n", s.ScriptFiles)
	return nil
}

func scriptColumn(name string) string {
	if name == "" {
		return "(recording)"
	}
	if len([]rune(name)) > 16 {
		return string([]rune(name)[:13]) + "..."
	}
	return name
}

func runResult(r store.Run) string {
	switch {
	case r.Empty:
		return "empty"
	case r.Halted:
		return "halted"
	case r.Failures > 0:
		return fmt.Sprintf("%d failed", r.Failures)
	default:
		return "done"
	}
}
