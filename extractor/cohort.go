package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// cohortKeyCols are the identifier columns every cohort file must carry.
var cohortKeyCols = []string{"subject_id", "hadm_id", "stay_id"}

// Stay is one ICU admission episode, the unit of aggregation. Intime and
// WindowEnd are zero until AttachWindows has run.
type Stay struct {
	SubjectID string
	HadmID    string
	StayID    string
	Intime    time.Time
	WindowEnd time.Time
}

// InWindow reports whether t falls inside the stay's half-open extraction
// window [Intime, WindowEnd). A timestamp exactly at WindowEnd is excluded.
func (s *Stay) InWindow(t time.Time) bool {
	return !t.Before(s.Intime) && t.Before(s.WindowEnd)
}

// Cohort is the fixed, ordered set of stays the pipeline must cover.
// No step may drop or duplicate a stay; the row count is constant from
// ingestion through final output.
type Cohort struct {
	Stays     []*Stay
	byStay    map[string]*Stay
	bySubject map[string][]*Stay
}

// MissingAdmissionTimeError is raised when a cohort stay has no admission
// timestamp. Every downstream step depends on the window, so this is
// reported rather than silently skipped.
type MissingAdmissionTimeError struct {
	StayID string
}

func (e *MissingAdmissionTimeError) Error() string {
	return fmt.Sprintf("stay %s has no admission time in the stays table", e.StayID)
}

// SchemaMismatchError is raised when a source table lacks required columns.
type SchemaMismatchError struct {
	Path    string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: missing required column(s): %s", e.Path, strings.Join(e.Missing, ", "))
}

// openCSV opens path behind a large buffered reader, skipping a UTF-8 BOM
// if present. Caller closes the file.
func openCSV(path string) (*os.File, *csv.Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	bufReader := bufio.NewReaderSize(file, 256*1024)
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return file, reader, nil
}

// headerIndex builds a trimmed lowercase column → index map from a header row.
func headerIndex(header []string) map[string]int {
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// requireColumns returns a SchemaMismatchError if any of cols is absent.
func requireColumns(path string, idx map[string]int, cols []string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaMismatchError{Path: path, Missing: missing}
	}
	return nil
}

// cleanID trims whitespace and a trailing ".0" left behind by spreadsheet
// exports of integer identifiers.
func cleanID(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ".0")
}

// LoadCohort reads the cohort definition CSV. Rows are kept in file order;
// duplicate stay keys collapse to their first occurrence.
func LoadCohort(path string) (*Cohort, error) {
	file, reader, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read cohort header: %w", err)
	}
	idx := headerIndex(header)
	if err := requireColumns(path, idx, cohortKeyCols); err != nil {
		return nil, err
	}

	c := &Cohort{
		byStay:    make(map[string]*Stay),
		bySubject: make(map[string][]*Stay),
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cohort row: %w", err)
		}

		stayID := cleanID(fieldAt(row, idx["stay_id"]))
		if stayID == "" {
			continue
		}
		if _, seen := c.byStay[stayID]; seen {
			continue
		}

		stay := &Stay{
			SubjectID: cleanID(fieldAt(row, idx["subject_id"])),
			HadmID:    cleanID(fieldAt(row, idx["hadm_id"])),
			StayID:    stayID,
		}
		c.Stays = append(c.Stays, stay)
		c.byStay[stayID] = stay
		c.bySubject[stay.SubjectID] = append(c.bySubject[stay.SubjectID], stay)
	}

	if len(c.Stays) == 0 {
		return nil, fmt.Errorf("%s: cohort is empty", path)
	}
	return c, nil
}

// AttachWindows reads the stays table (stay_id, intime) and derives each
// cohort stay's extraction window [intime, intime+window). A cohort stay
// absent from the table, or present without a parseable intime, is fatal.
func (c *Cohort) AttachWindows(path string, window time.Duration) error {
	file, reader, err := openCSV(path)
	if err != nil {
		return err
	}
	defer file.Close()

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read stays header: %w", err)
	}
	idx := headerIndex(header)
	if err := requireColumns(path, idx, []string{"stay_id", "intime"}); err != nil {
		return err
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read stays row: %w", err)
		}

		stay, ok := c.byStay[cleanID(fieldAt(row, idx["stay_id"]))]
		if !ok {
			continue
		}
		t, err := parseTimestamp(fieldAt(row, idx["intime"]))
		if err != nil {
			return &MissingAdmissionTimeError{StayID: stay.StayID}
		}
		stay.Intime = t
		stay.WindowEnd = t.Add(window)
	}

	for _, stay := range c.Stays {
		if stay.Intime.IsZero() {
			return &MissingAdmissionTimeError{StayID: stay.StayID}
		}
	}
	return nil
}

// timestampLayouts covers MIMIC-style and ISO timestamps.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func fieldAt(row []string, i int) string {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return ""
}
