package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultChunkSize is the number of event rows processed per chunk.
// Chunks bound memory and checkpoint granularity only; the earliest-value
// reduction is invariant to where chunk boundaries fall.
const DefaultChunkSize = 100000

// eventCols are the columns every event table must carry.
var eventCols = []string{"subject_id", "itemid", "charttime", "valuenum"}

// best is the current earliest-in-window observation for one (stay, variable).
type best struct {
	Value     float64
	ChartTime time.Time
}

// accKey identifies one accumulator slot.
type accKey struct {
	StayID string
	VarIdx int
}

// Accumulator reduces an event stream to one earliest-qualifying value per
// (stay, variable). It is owned by exactly one scan; parallel scans each
// get their own.
//
// Tie-break policy: when two qualifying rows carry the same timestamp the
// first-scanned row wins. Scan order is the source file's physical row
// order and rows are never re-sorted, so the rule is deterministic and
// survives restarts.
type Accumulator struct {
	Table string
	Vars  []Variable
	best  map[accKey]best
}

func NewAccumulator(table string, vars []Variable) *Accumulator {
	return &Accumulator{
		Table: table,
		Vars:  vars,
		best:  make(map[accKey]best),
	}
}

// Observe offers one qualifying observation to the accumulator. Only a
// strictly earlier timestamp replaces an existing entry.
func (a *Accumulator) Observe(stayID string, varIdx int, value float64, t time.Time) {
	key := accKey{StayID: stayID, VarIdx: varIdx}
	cur, ok := a.best[key]
	if !ok || t.Before(cur.ChartTime) {
		a.best[key] = best{Value: value, ChartTime: t}
	}
}

// Len returns the number of (stay, variable) slots currently held.
func (a *Accumulator) Len() int {
	return len(a.best)
}

// ScanStats counts what happened to every row of one table scan.
// Row-level problems are absorbed here and surfaced as a summary; they
// never leak past the extractor boundary.
type ScanStats struct {
	RowsRead      int64 `json:"rows_read"`
	Chunks        int64 `json:"chunks"`
	NotInCohort   int64 `json:"not_in_cohort"`
	NotInCatalog  int64 `json:"not_in_catalog"`
	BadItemID     int64 `json:"bad_itemid"`
	BadTimestamp  int64 `json:"bad_timestamp"`
	BadValue      int64 `json:"bad_value"`
	OutsideWindow int64 `json:"outside_window"`
	Qualified     int64 `json:"qualified"`
}

func (s *ScanStats) skipped() int64 {
	return s.BadItemID + s.BadTimestamp + s.BadValue
}

// EventScanner streams one source table in bounded-size chunks and feeds
// its accumulator. The header is validated when the scanner is created.
type EventScanner struct {
	path      string
	table     string
	file      *os.File
	csv       *csv.Reader
	colIdx    map[string]int
	itemIdx   map[int]int // itemid → index into acc.Vars
	cohort    *Cohort
	acc       *Accumulator
	chunkSize int
	stats     ScanStats
}

// NewEventScanner opens the table at path and validates its schema.
// Exhausting the header without finding the required columns is fatal.
func NewEventScanner(path, table string, cat Catalog, cohort *Cohort, chunkSize int) (*EventScanner, error) {
	vars := cat.ForTable(table)
	if len(vars) == 0 {
		return nil, fmt.Errorf("catalog defines no %s variables", table)
	}

	file, reader, err := openCSV(path)
	if err != nil {
		return nil, err
	}

	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	colIdx := headerIndex(header)
	if err := requireColumns(path, colIdx, eventCols); err != nil {
		file.Close()
		return nil, err
	}

	itemIdx := make(map[int]int)
	for i, v := range vars {
		for _, id := range v.ItemIDs {
			itemIdx[id] = i
		}
	}

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &EventScanner{
		path:      path,
		table:     table,
		file:      file,
		csv:       reader,
		colIdx:    colIdx,
		itemIdx:   itemIdx,
		cohort:    cohort,
		acc:       NewAccumulator(table, vars),
		chunkSize: chunkSize,
	}, nil
}

func (s *EventScanner) Close() error {
	return s.file.Close()
}

// Accumulator returns the scan's reduction state.
func (s *EventScanner) Accumulator() *Accumulator {
	return s.acc
}

// Stats returns the counters for the scan so far.
func (s *EventScanner) Stats() ScanStats {
	return s.stats
}

// skipRows fast-forwards past n already-processed data rows when resuming
// from a checkpoint.
func (s *EventScanner) skipRows(n int64) error {
	for i := int64(0); i < n; i++ {
		if _, err := s.csv.Read(); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%s: checkpoint claims %d rows but file ends at %d", s.path, n, i)
			}
			return fmt.Errorf("skip row %d of %s: %w", i, s.path, err)
		}
	}
	return nil
}

// Run consumes the table to EOF. When ckpt is non-nil the accumulator is
// snapshotted there after every checkpointEveryChunks fully-processed
// chunks, so an interrupted scan can restart without re-reading the table.
func (s *EventScanner) Run(ckpt *CheckpointFile) error {
	log := logrus.WithFields(logrus.Fields{"table": s.table, "path": s.path})

	inChunk := 0
	lastLog := time.Now()
	for {
		row, err := s.csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s row: %w", s.path, err)
		}
		s.stats.RowsRead++
		s.processRow(row)

		inChunk++
		if inChunk >= s.chunkSize {
			inChunk = 0
			s.stats.Chunks++
			if ckpt != nil && s.stats.Chunks%checkpointEveryChunks == 0 {
				if err := ckpt.Write(s); err != nil {
					return err
				}
			}
			if time.Since(lastLog) >= 5*time.Second {
				log.WithFields(logrus.Fields{
					"rows":      s.stats.RowsRead,
					"chunks":    s.stats.Chunks,
					"qualified": s.stats.Qualified,
				}).Info("scan progress")
				lastLog = time.Now()
			}
		}
	}
	if inChunk > 0 {
		s.stats.Chunks++
	}

	if n := s.stats.skipped(); n > 0 {
		log.WithFields(logrus.Fields{
			"bad_itemid":    s.stats.BadItemID,
			"bad_timestamp": s.stats.BadTimestamp,
			"bad_value":     s.stats.BadValue,
		}).Warnf("skipped %d malformed rows", n)
	}
	log.WithFields(logrus.Fields{
		"rows":      s.stats.RowsRead,
		"qualified": s.stats.Qualified,
		"slots":     s.acc.Len(),
	}).Info("scan complete")
	return nil
}

// processRow applies the filter chain to one event row: cohort membership,
// catalog membership, parseability, window containment. Survivors go to
// the accumulator.
func (s *EventScanner) processRow(row []string) {
	subject := cleanID(fieldAt(row, s.colIdx["subject_id"]))
	stays := s.cohort.bySubject[subject]
	if len(stays) == 0 {
		s.stats.NotInCohort++
		return
	}

	itemRaw := fieldAt(row, s.colIdx["itemid"])
	itemID, err := strconv.Atoi(cleanID(itemRaw))
	if err != nil {
		s.stats.BadItemID++
		return
	}
	varIdx, ok := s.itemIdx[itemID]
	if !ok {
		s.stats.NotInCatalog++
		return
	}

	t, err := parseTimestamp(fieldAt(row, s.colIdx["charttime"]))
	if err != nil {
		s.stats.BadTimestamp++
		return
	}
	value, err := strconv.ParseFloat(cleanValue(fieldAt(row, s.colIdx["valuenum"])), 64)
	if err != nil {
		s.stats.BadValue++
		return
	}

	// Resolve the measurement to the stay whose window contains it.
	// Windows of distinct stays for one subject rarely overlap; if they
	// do, the first stay in cohort order claims the row.
	for _, stay := range stays {
		if stay.InWindow(t) {
			s.acc.Observe(stay.StayID, varIdx, value, t)
			s.stats.Qualified++
			return
		}
	}
	s.stats.OutsideWindow++
}

func cleanValue(s string) string {
	// strconv rejects surrounding whitespace that csv preserves
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r') {
		end--
	}
	return s[start:end]
}
