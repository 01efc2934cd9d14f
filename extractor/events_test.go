package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
)

// testCohort builds a three-stay cohort with windows starting a month
// apart, so per-stay events can't bleed into each other's windows.
func testCohort(t *testing.T) *Cohort {
	t.Helper()
	dir := t.TempDir()
	cohortPath := writeFile(t, dir, "cohort.csv",
		"subject_id,hadm_id,stay_id\n"+
			"10,100,1000\n"+
			"11,101,1001\n"+
			"12,102,1002\n")
	staysPath := writeFile(t, dir, "icustays.csv",
		"stay_id,intime\n"+
			"1000,2150-01-01 00:00:00\n"+
			"1001,2150-02-01 00:00:00\n"+
			"1002,2150-03-01 00:00:00\n")

	cohort, err := LoadCohort(cohortPath)
	if err != nil {
		t.Fatalf("LoadCohort: %v", err)
	}
	if err := cohort.AttachWindows(staysPath, 24*time.Hour); err != nil {
		t.Fatalf("AttachWindows: %v", err)
	}
	return cohort
}

// scanEvents runs a full scan of an event CSV and returns the scanner.
func scanEvents(t *testing.T, path, table string, cohort *Cohort, chunkSize int) *EventScanner {
	t.Helper()
	scanner, err := NewEventScanner(path, table, DefaultCatalog(), cohort, chunkSize)
	if err != nil {
		t.Fatalf("NewEventScanner: %v", err)
	}
	t.Cleanup(func() { scanner.Close() })
	if err := scanner.Run(nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return scanner
}

// readResult loads one per-variable Parquet output.
func readResult(t *testing.T, path string) []ExtractionRow {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	reader := parquet.NewGenericReader[ExtractionRow](file)
	defer reader.Close()

	var rows []ExtractionRow
	buf := make([]ExtractionRow, 16)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
	}
	return rows
}

func varValue(t *testing.T, acc *Accumulator, stayID, variable string) (float64, time.Time) {
	t.Helper()
	for i, v := range acc.Vars {
		if v.Name == variable {
			b, ok := acc.best[accKey{StayID: stayID, VarIdx: i}]
			if !ok {
				t.Fatalf("no value for stay %s variable %s", stayID, variable)
			}
			return b.Value, b.ChartTime
		}
	}
	t.Fatalf("variable %s not in accumulator", variable)
	return 0, time.Time{}
}

func TestEarliestValueWins(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	// Rows deliberately out of chronological order.
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,50912,2150-01-01 10:00:00,1.5\n"+
			"10,50912,2150-01-01 02:00:00,0.9\n"+
			"10,50912,2150-01-01 05:00:00,2.0\n")

	for _, chunkSize := range []int{1, 2, 100000} {
		scanner := scanEvents(t, path, TableLabEvents, cohort, chunkSize)
		value, at := varValue(t, scanner.Accumulator(), "1000", "creatinine")
		if value != 0.9 {
			t.Errorf("chunk=%d: value = %g, want 0.9", chunkSize, value)
		}
		want := time.Date(2150, 1, 1, 2, 0, 0, 0, time.UTC)
		if !at.Equal(want) {
			t.Errorf("chunk=%d: charttime = %v, want %v", chunkSize, at, want)
		}
	}
}

func TestTimestampTieKeepsFirstScanned(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,50912,2150-01-01 02:00:00,1.1\n"+
			"10,50912,2150-01-01 02:00:00,9.9\n")

	scanner := scanEvents(t, path, TableLabEvents, cohort, 1)
	value, _ := varValue(t, scanner.Accumulator(), "1000", "creatinine")
	if value != 1.1 {
		t.Errorf("value = %g, want first-scanned 1.1", value)
	}
}

func TestWindowFiltering(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,50912,2149-12-31 23:59:59,7.0\n"+ // before admission
			"10,50912,2150-01-02 00:00:00,8.0\n"+ // exactly window end, excluded
			"10,50912,2150-01-01 23:59:59,1.3\n") // last in-window second

	scanner := scanEvents(t, path, TableLabEvents, cohort, 100)
	value, _ := varValue(t, scanner.Accumulator(), "1000", "creatinine")
	if value != 1.3 {
		t.Errorf("value = %g, want 1.3", value)
	}
	stats := scanner.Stats()
	if stats.OutsideWindow != 2 {
		t.Errorf("outside window = %d, want 2", stats.OutsideWindow)
	}
	if stats.Qualified != 1 {
		t.Errorf("qualified = %d, want 1", stats.Qualified)
	}
}

func TestSchemaMismatch(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime\n10,50912,2150-01-01 02:00:00\n")

	_, err := NewEventScanner(path, TableLabEvents, DefaultCatalog(), cohort, 100)
	var schemaErr *SchemaMismatchError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want SchemaMismatchError", err)
	}
	if len(schemaErr.Missing) != 1 || schemaErr.Missing[0] != "valuenum" {
		t.Errorf("missing = %v, want [valuenum]", schemaErr.Missing)
	}
}

func TestMalformedRowsCounted(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,notanid,2150-01-01 02:00:00,1.0\n"+
			"10,50912,garbage,1.0\n"+
			"10,50912,2150-01-01 02:00:00,\n"+
			"10,50912,2150-01-01 03:00:00,1.4\n"+
			"99,50912,2150-01-01 02:00:00,1.0\n"+ // subject not in cohort
			"10,99999,2150-01-01 02:00:00,1.0\n") // itemid not in catalog

	scanner := scanEvents(t, path, TableLabEvents, cohort, 100)
	stats := scanner.Stats()

	if stats.BadItemID != 1 || stats.BadTimestamp != 1 || stats.BadValue != 1 {
		t.Errorf("bad counters = %d/%d/%d, want 1/1/1",
			stats.BadItemID, stats.BadTimestamp, stats.BadValue)
	}
	if stats.NotInCohort != 1 {
		t.Errorf("not in cohort = %d, want 1", stats.NotInCohort)
	}
	if stats.NotInCatalog != 1 {
		t.Errorf("not in catalog = %d, want 1", stats.NotInCatalog)
	}
	if stats.Qualified != 1 {
		t.Errorf("qualified = %d, want 1", stats.Qualified)
	}

	value, _ := varValue(t, scanner.Accumulator(), "1000", "creatinine")
	if value != 1.4 {
		t.Errorf("value = %g, want 1.4 (malformed rows must not poison the reduction)", value)
	}
}

func TestMultiItemIDVariable(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	// Both fio2 itemids feed one variable; they compete on timestamp only.
	path := writeFile(t, dir, "chartevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,223835,2150-01-01 06:00:00,50\n"+
			"10,3420,2150-01-01 03:00:00,40\n")

	scanner := scanEvents(t, path, TableChartEvents, cohort, 100)
	value, at := varValue(t, scanner.Accumulator(), "1000", "fio2")
	if value != 40 {
		t.Errorf("value = %g, want 40", value)
	}
	want := time.Date(2150, 1, 1, 3, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Errorf("charttime = %v, want %v", at, want)
	}
}

func TestThreeStayExtraction(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	// Stay 1000: two in-window values, earliest kept.
	// Stay 1001: no events at all.
	// Stay 1002: one event, outside its window.
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,50912,2150-01-01 08:00:00,1.8\n"+
			"10,50912,2150-01-01 04:00:00,1.2\n"+
			"12,50912,2150-03-05 00:00:00,6.0\n")

	scanner := scanEvents(t, path, TableLabEvents, cohort, 2)
	outDir := filepath.Join(dir, "out")
	results, err := WriteResults(scanner.Accumulator(), cohort, outDir)
	if err != nil {
		t.Fatalf("WriteResults: %v", err)
	}

	// Every lab variable gets a file, observed or not.
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}

	rows := readResult(t, filepath.Join(outDir, "lab_creatinine.parquet"))
	if len(rows) != 1 {
		t.Fatalf("creatinine rows = %d, want 1", len(rows))
	}
	if rows[0].StayID != "1000" || rows[0].Value != 1.2 {
		t.Errorf("row = %+v, want stay 1000 value 1.2", rows[0])
	}
	if rows[0].ChartTime != "2150-01-01 04:00:00" {
		t.Errorf("charttime = %q, want %q", rows[0].ChartTime, "2150-01-01 04:00:00")
	}

	// A variable with no qualifying observations still produces a file.
	empty := readResult(t, filepath.Join(outDir, "lab_bilirubin.parquet"))
	if len(empty) != 0 {
		t.Errorf("bilirubin rows = %d, want 0", len(empty))
	}
}

func TestWriteResultsByteIdentical(t *testing.T) {
	cohort := testCohort(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "labevents.csv",
		"subject_id,itemid,charttime,valuenum\n"+
			"10,50912,2150-01-01 04:00:00,1.2\n"+
			"11,50912,2150-02-01 06:00:00,2.4\n"+
			"12,50885,2150-03-01 01:00:00,0.7\n")

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		scanner := scanEvents(t, path, TableLabEvents, cohort, 1)
		outDir := filepath.Join(dir, "out", string(rune('a'+i)))
		if _, err := WriteResults(scanner.Accumulator(), cohort, outDir); err != nil {
			t.Fatalf("WriteResults: %v", err)
		}
		content, err := os.ReadFile(filepath.Join(outDir, "lab_creatinine.parquet"))
		if err != nil {
			t.Fatalf("read result: %v", err)
		}
		outputs = append(outputs, content)
	}

	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Error("re-running an unchanged extraction must produce byte-identical output")
	}
}
