package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// StayKey is the composite identifier of one cohort stay.
type StayKey struct {
	SubjectID string
	HadmID    string
	StayID    string
}

// CohortTable is the cohort definition: the fixed ordered stay key set
// that drives the output rows, plus any extra cohort columns available
// for passthrough into the final table.
type CohortTable struct {
	Keys   []StayKey
	Extras []string            // extra column names, file order
	extra  map[string][]string // stay_id -> extra column values
}

// LoadCohortTable reads the cohort definition CSV. Duplicate stay keys
// collapse to their first occurrence, preserving file order.
func LoadCohortTable(path string) (*CohortTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, 256*1024))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read cohort header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"subject_id", "hadm_id", "stay_id"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%s: missing required column %s", path, col)
		}
	}

	t := &CohortTable{extra: make(map[string][]string)}
	var extraIdx []int
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "subject_id" || name == "hadm_id" || name == "stay_id" {
			continue
		}
		t.Extras = append(t.Extras, strings.TrimSpace(h))
		extraIdx = append(extraIdx, i)
	}

	seen := make(map[string]bool)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cohort row: %w", err)
		}
		key := StayKey{
			SubjectID: cleanID(row, idx["subject_id"]),
			HadmID:    cleanID(row, idx["hadm_id"]),
			StayID:    cleanID(row, idx["stay_id"]),
		}
		if key.StayID == "" || seen[key.StayID] {
			continue
		}
		seen[key.StayID] = true
		t.Keys = append(t.Keys, key)

		extras := make([]string, len(extraIdx))
		for j, i := range extraIdx {
			if i < len(row) {
				extras[j] = strings.TrimSpace(row[i])
			}
		}
		t.extra[key.StayID] = extras
	}
	if len(t.Keys) == 0 {
		return nil, fmt.Errorf("%s: cohort is empty", path)
	}
	return t, nil
}

// ExtraValues returns the stay's passthrough column values.
func (t *CohortTable) ExtraValues(stayID string) []string {
	if extras, ok := t.extra[stayID]; ok {
		return extras
	}
	return make([]string, len(t.Extras))
}
