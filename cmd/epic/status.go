package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danshapiro/epic/internal/epic/engine"
	"github.com/danshapiro/epic/internal/epic/runstate"
	"github.com/danshapiro/epic/internal/epic/store"
)

type historyRow struct {
	Seq           int64     `json:"seq"`
	StepCount     int       `json:"step_count"`
	Status        string    `json:"status"`
	CurrentNodeID *int      `json:"current_node_id"`
	Digest        string    `json:"digest"`
	SavedAt       time.Time `json:"saved_at"`
}

func (a *app) statusCmd() *cobra.Command {
	var version int
	var asJSON bool
	var history bool
	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Show the state of the latest (or given) run",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.runDir(args[0], version)
			if err != nil {
				return err
			}
			snap, err := runstate.LoadSnapshot(dir)
			if err != nil {
				return err
			}
			var rows []historyRow
			if history {
				if rows, err = loadHistory(cmd, dir, snap.RunID); err != nil {
					return err
				}
			}
			if asJSON {
				return writeStatusJSON(a.stdout, snap, rows, history)
			}
			writeStatusText(a.stdout, snap, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "run version (default latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	cmd.Flags().BoolVar(&history, "history", false, "list saved checkpoints (requires checkpoint.history)")
	return cmd
}

func loadHistory(cmd *cobra.Command, runDir, runID string) ([]historyRow, error) {
	path := engine.NewLayout(runDir).HistoryPath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no checkpoint history for this run (enable checkpoint.history): %w", err)
	}
	s, err := store.OpenSQLiteStore(path, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()
	entries, err := s.History(cmd.Context())
	if err != nil {
		return nil, err
	}
	rows := make([]historyRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyRow{
			Seq:           e.Seq,
			StepCount:     e.StepCount,
			Status:        string(e.Status),
			CurrentNodeID: e.CurrentNodeID,
			Digest:        e.Digest,
			SavedAt:       e.SavedAt,
		})
	}
	return rows, nil
}

func writeStatusJSON(w io.Writer, snap *runstate.Snapshot, rows []historyRow, withHistory bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if !withHistory {
		return enc.Encode(snap)
	}
	return enc.Encode(struct {
		*runstate.Snapshot
		History []historyRow `json:"history"`
	}{snap, rows})
}

func writeStatusText(w io.Writer, s *runstate.Snapshot, rows []historyRow) {
	fmt.Fprintf(w, "run_dir=%s\n", s.RunDir)
	fmt.Fprintf(w, "run_id=%s\n", s.RunID)
	fmt.Fprintf(w, "state=%s\n", s.State)
	if s.ProgramStatus != "" {
		fmt.Fprintf(w, "program_status=%s\n", s.ProgramStatus)
	}
	fmt.Fprintf(w, "step_count=%d\n", s.StepCount)
	if s.CurrentNodeID != "" {
		fmt.Fprintf(w, "current_node=%s\n", s.CurrentNodeID)
	}
	if s.LastEvent != "" {
		fmt.Fprintf(w, "last_event=%s\n", s.LastEvent)
	}
	if !s.LastEventAt.IsZero() {
		fmt.Fprintf(w, "last_event_at=%s\n", s.LastEventAt.Format(time.RFC3339))
	}
	if s.FailureReason != "" {
		fmt.Fprintf(w, "failure_reason=%s\n", s.FailureReason)
	}
	if s.PID > 0 {
		fmt.Fprintf(w, "pid=%d\npid_alive=%t\n", s.PID, s.PIDAlive)
	}
	for _, r := range rows {
		node := "-"
		if r.CurrentNodeID != nil {
			node = fmt.Sprintf("n%d", *r.CurrentNodeID)
		}
		fmt.Fprintf(w, "checkpoint seq=%d step=%d status=%s node=%s saved_at=%s\n",
			r.Seq, r.StepCount, r.Status, node, r.SavedAt.Format(time.RFC3339))
	}
}
