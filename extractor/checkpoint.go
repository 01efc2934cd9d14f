package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// checkpointEveryChunks controls how often a running scan snapshots its
// accumulator. Between snapshots at most this many chunks are re-read on
// restart.
const checkpointEveryChunks = 10

const timestampLayout = "2006-01-02 15:04:05"

// CheckpointFile persists a scan's reduction state so an interrupted run
// can restart from the last fully-processed chunk instead of re-scanning
// the whole table. A checkpoint is only honored when the source file and
// the scan configuration that produced it are unchanged.
type CheckpointFile struct {
	Path  string
	RunID string

	source      string
	sourceBytes int64
	table       string
	chunkSize   int
	window      time.Duration
}

type checkpointEntry struct {
	StayID    string  `json:"stay_id"`
	Variable  string  `json:"variable"`
	Value     float64 `json:"value"`
	ChartTime string  `json:"charttime"`
}

type checkpointState struct {
	RunID       string            `json:"run_id"`
	Source      string            `json:"source"`
	SourceBytes int64             `json:"source_bytes"`
	Table       string            `json:"table"`
	ChunkSize   int               `json:"chunk_size"`
	Window      string            `json:"window"`
	Catalog     string            `json:"catalog"`
	RowsRead    int64             `json:"rows_read"`
	Stats       ScanStats         `json:"stats"`
	Entries     []checkpointEntry `json:"entries"`
}

// catalogFingerprint identifies the variable set a scan was configured
// with: every variable name and its itemids, in catalog order. A
// checkpoint written under a different catalog holds values the current
// configuration could never produce, so it must not be resumed.
func catalogFingerprint(vars []Variable) string {
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(v.Name)
		for _, id := range v.ItemIDs {
			fmt.Fprintf(&b, ":%d", id)
		}
		b.WriteByte(';')
	}
	return b.String()
}

// NewCheckpointFile describes the checkpoint for one (table, source) scan
// under dir. The file itself is created lazily by Write.
func NewCheckpointFile(dir, table, source string, chunkSize int, window time.Duration) (*CheckpointFile, error) {
	fi, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", source, err)
	}
	return &CheckpointFile{
		Path:        filepath.Join(dir, fmt.Sprintf("checkpoint_%s.json", table)),
		RunID:       uuid.NewString(),
		source:      source,
		sourceBytes: fi.Size(),
		table:       table,
		chunkSize:   chunkSize,
		window:      window,
	}, nil
}

// Write atomically snapshots the scanner's accumulator and position.
func (c *CheckpointFile) Write(s *EventScanner) error {
	state := checkpointState{
		RunID:       c.RunID,
		Source:      c.source,
		SourceBytes: c.sourceBytes,
		Table:       c.table,
		ChunkSize:   c.chunkSize,
		Window:      c.window.String(),
		Catalog:     catalogFingerprint(s.acc.Vars),
		RowsRead:    s.stats.RowsRead,
		Stats:       s.stats,
	}
	for key, b := range s.acc.best {
		state.Entries = append(state.Entries, checkpointEntry{
			StayID:    key.StayID,
			Variable:  s.acc.Vars[key.VarIdx].Name,
			Value:     b.Value,
			ChartTime: b.ChartTime.Format(timestampLayout),
		})
	}
	sort.Slice(state.Entries, func(i, j int) bool {
		if state.Entries[i].StayID != state.Entries[j].StayID {
			return state.Entries[i].StayID < state.Entries[j].StayID
		}
		return state.Entries[i].Variable < state.Entries[j].Variable
	})

	tmp := c.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(&state); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	return os.Rename(tmp, c.Path)
}

// Resume restores the scanner from an existing checkpoint, fast-forwarding
// past already-processed rows. It reports whether a checkpoint was applied;
// a missing or mismatched checkpoint is discarded, not an error.
func (c *CheckpointFile) Resume(s *EventScanner) (bool, error) {
	content, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read checkpoint: %w", err)
	}

	var state checkpointState
	if err := json.Unmarshal(content, &state); err != nil {
		logrus.WithField("path", c.Path).Warn("discarding unreadable checkpoint")
		return false, nil
	}
	if state.Source != c.source || state.SourceBytes != c.sourceBytes ||
		state.Table != c.table || state.ChunkSize != c.chunkSize ||
		state.Window != c.window.String() {
		logrus.WithField("path", c.Path).Warn("discarding checkpoint for changed source or configuration")
		return false, nil
	}

	if state.Catalog != catalogFingerprint(s.acc.Vars) {
		logrus.WithField("path", c.Path).Warn("discarding checkpoint for changed variable catalog")
		return false, nil
	}

	// Restore into a staging map so a checkpoint discarded partway through
	// leaves the live accumulator untouched.
	varIdx := make(map[string]int, len(s.acc.Vars))
	for i, v := range s.acc.Vars {
		varIdx[v.Name] = i
	}
	restored := make(map[accKey]best, len(state.Entries))
	for _, e := range state.Entries {
		i, ok := varIdx[e.Variable]
		if !ok {
			logrus.WithField("variable", e.Variable).Warn("discarding checkpoint with unknown variable")
			return false, nil
		}
		t, err := parseTimestamp(e.ChartTime)
		if err != nil {
			return false, fmt.Errorf("checkpoint entry %s/%s: %w", e.StayID, e.Variable, err)
		}
		restored[accKey{StayID: e.StayID, VarIdx: i}] = best{Value: e.Value, ChartTime: t}
	}
	if err := s.skipRows(state.RowsRead); err != nil {
		return false, err
	}
	s.acc.best = restored
	s.stats = state.Stats

	// Keep the original run id so the whole logical run stays traceable.
	c.RunID = state.RunID
	logrus.WithFields(logrus.Fields{
		"table":  c.table,
		"rows":   state.RowsRead,
		"run_id": state.RunID,
	}).Info("resumed from checkpoint")
	return true, nil
}

// Remove deletes the checkpoint after a scan completes and its results are
// safely written.
func (c *CheckpointFile) Remove() {
	if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("path", c.Path).Warn("could not remove checkpoint")
	}
}
