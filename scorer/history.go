package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// HistoryTable holds per-stay medical history condition flags, keyed on
// the full stay key so a reused stay_id in a different admission never
// picks up the wrong history.
type HistoryTable struct {
	Conditions []string
	rows       map[string][]string // "subject|hadm|stay" -> flag values
}

// LoadHistory reads a medical history CSV. Every non-key column is taken
// as a condition flag column. Duplicate stay keys keep their first row.
func LoadHistory(path string) (*HistoryTable, error) {
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
		return nil, fmt.Errorf("read %s header: %w", path, err)
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

	t := &HistoryTable{rows: make(map[string][]string)}
	var condIdx []int
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "subject_id" || name == "hadm_id" || name == "stay_id" {
			continue
		}
		t.Conditions = append(t.Conditions, strings.TrimSpace(h))
		condIdx = append(condIdx, i)
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", path, err)
		}
		key := historyKey(
			cleanID(row, idx["subject_id"]),
			cleanID(row, idx["hadm_id"]),
			cleanID(row, idx["stay_id"]),
		)
		if _, seen := t.rows[key]; seen {
			continue
		}
		flags := make([]string, len(condIdx))
		for j, i := range condIdx {
			if i < len(row) {
				flags[j] = strings.TrimSpace(row[i])
			}
		}
		t.rows[key] = flags
	}
	return t, nil
}

// Flags returns the stay's condition flag values, or empty fields when
// the stay has no history row. The left join never drops a stay.
func (t *HistoryTable) Flags(subjectID, hadmID, stayID string) []string {
	if flags, ok := t.rows[historyKey(subjectID, hadmID, stayID)]; ok {
		return flags
	}
	return make([]string, len(t.Conditions))
}

func historyKey(subjectID, hadmID, stayID string) string {
	return subjectID + "|" + hadmID + "|" + stayID
}
