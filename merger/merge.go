package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MergeColumn names one extraction result file and the wide-table column
// it becomes.
type MergeColumn struct {
	File   string
	Column string
}

// DefaultMergeOrder lists every extraction result the built-in variable
// set produces, in the order the columns appear in the wide table. The
// final content is independent of this order (columns are disjoint), but
// a fixed order keeps runs and their logs reproducible. Extractions run
// with a catalog override merge via LoadMergeOrder instead.
var DefaultMergeOrder = []MergeColumn{
	{"lab_creatinine.parquet", "creatinine"},
	{"lab_bilirubin.parquet", "bilirubin"},
	{"lab_platelet.parquet", "platelet"},
	{"lab_pao2.parquet", "pao2"},
	{"chart_fio2.parquet", "fio2"},
	{"chart_temperature.parquet", "temperature"},
	{"chart_map.parquet", "map"},
	{"chart_gcs_eye.parquet", "gcs_eye"},
	{"chart_gcs_motor.parquet", "gcs_motor"},
	{"chart_gcs_verbal.parquet", "gcs_verbal"},
	{"vaso_scores.parquet", "sofa_cardio"},
}

// catalogVariable is the slice of the extraction catalog the merger needs:
// the variable name and the source table that prefixes its result file.
type catalogVariable struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
}

type catalogFile struct {
	Variables []catalogVariable `yaml:"variables"`
}

var mergeFilePrefix = map[string]string{
	"labevents":   "lab",
	"chartevents": "chart",
}

// LoadMergeOrder derives the merge list from a variable catalog YAML, one
// column per variable in catalog order, followed by the vasopressor score
// column the extraction stage does not produce. An empty path keeps the
// built-in default order.
func LoadMergeOrder(path string) ([]MergeColumn, error) {
	if path == "" {
		return DefaultMergeOrder, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var cat catalogFile
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(cat.Variables) == 0 {
		return nil, fmt.Errorf("catalog %s: no variables defined", path)
	}

	var order []MergeColumn
	for _, v := range cat.Variables {
		prefix, ok := mergeFilePrefix[v.Table]
		if !ok {
			return nil, fmt.Errorf("catalog %s: variable %q: unknown source table %q", path, v.Name, v.Table)
		}
		order = append(order, MergeColumn{
			File:   fmt.Sprintf("%s_%s.parquet", prefix, v.Name),
			Column: v.Name,
		})
	}
	return append(order, MergeColumn{"vaso_scores.parquet", "sofa_cardio"}), nil
}

// CardinalityViolationError is fatal: it means an extraction result holds
// duplicate stay keys or a merge step changed the cohort row count, either
// of which would silently invalidate the one-row-per-stay guarantee.
type CardinalityViolationError struct {
	Column string
	Detail string
}

func (e *CardinalityViolationError) Error() string {
	return fmt.Sprintf("cardinality violation merging %s: %s", e.Column, e.Detail)
}

// StayKey is the composite identifier of one cohort stay.
type StayKey struct {
	SubjectID string
	HadmID    string
	StayID    string
}

// LoadCohortKeys reads the cohort definition's key columns in file order,
// collapsing duplicate stay keys to their first occurrence.
func LoadCohortKeys(path string) ([]StayKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
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

	var keys []StayKey
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
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: cohort is empty", path)
	}
	return keys, nil
}

func cleanID(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(row[i]), ".0")
}

// WideTable is the progressively merged one-row-per-stay table. It is born
// as a copy of the cohort base table and grows one column per merge step;
// the row set never changes.
type WideTable struct {
	Columns []string
	Rows    [][]string
	rowIdx  map[string]int // stay_id → row index
}

// NewWideTable initializes the wide table from the cohort base keys.
func NewWideTable(cohort []StayKey) *WideTable {
	w := &WideTable{
		Columns: []string{"subject_id", "hadm_id", "stay_id"},
		rowIdx:  make(map[string]int, len(cohort)),
	}
	for i, key := range cohort {
		w.Rows = append(w.Rows, []string{key.SubjectID, key.HadmID, key.StayID})
		w.rowIdx[key.StayID] = i
	}
	return w
}

// MergeResult left-joins one extraction result onto the table as a new
// column. Every cohort stay survives; a stay without a value gets an empty
// field. Result rows whose stay is not in the cohort indicate
// cohort-definition drift: they are dropped and counted, never allowed to
// widen the table. Duplicate stay keys in the result are fatal.
func (w *WideTable) MergeResult(column string, rows []ExtractionRow) (dropped int, err error) {
	before := len(w.Rows)

	values := make([]string, len(w.Rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.StayID] {
			return 0, &CardinalityViolationError{
				Column: column,
				Detail: fmt.Sprintf("duplicate stay %s in extraction result", r.StayID),
			}
		}
		seen[r.StayID] = true

		i, ok := w.rowIdx[r.StayID]
		if !ok {
			dropped++
			continue
		}
		values[i] = strconv.FormatFloat(r.Value, 'g', -1, 64)
	}

	w.Columns = append(w.Columns, column)
	for i := range w.Rows {
		w.Rows[i] = append(w.Rows[i], values[i])
	}

	if len(w.Rows) != before {
		return dropped, &CardinalityViolationError{
			Column: column,
			Detail: fmt.Sprintf("row count changed from %d to %d", before, len(w.Rows)),
		}
	}
	return dropped, nil
}

// WriteCSV writes the wide table as a flat delimited file.
func (w *WideTable) WriteCSV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(w.Columns); err != nil {
		file.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range w.Rows {
		if err := writer.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
