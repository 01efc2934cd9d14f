package main

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeScoresCSV(t *testing.T, dir string, stayIDs []string) string {
	t.Helper()
	content := "subject_id,hadm_id,stay_id,sofa_score\n"
	for i, id := range stayIDs {
		content += "s,h," + id + ","
		content += string(rune('0' + i%5))
		content += "\n"
	}
	path := filepath.Join(dir, "scores.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write scores: %v", err)
	}
	return path
}

func TestScanStayIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeScoresCSV(t, dir, []string{"1003", "1001", "1002", "1001", "1003"})

	ids, err := scanStayIDs(path)
	if err != nil {
		t.Fatalf("scanStayIDs: %v", err)
	}
	want := []string{"1003", "1001", "1002"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v (unique, first-appearance order)", ids, want)
	}
}

func TestSelectStaysDeterministic(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}

	first := selectStays(ids, 3, 42)
	second := selectStays(ids, 3, 42)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same seed produced different samples: %v vs %v", first, second)
	}
	if len(first) != 3 {
		t.Errorf("sample size = %d, want 3", len(first))
	}
	for id := range first {
		found := false
		for _, candidate := range ids {
			if id == candidate {
				found = true
			}
		}
		if !found {
			t.Errorf("sampled unknown stay %q", id)
		}
	}

	// Oversized requests fall back to the full set.
	all := selectStays(ids, 100, 42)
	if len(all) != len(ids) {
		t.Errorf("oversized sample = %d stays, want %d", len(all), len(ids))
	}
}

func TestFilterRows(t *testing.T) {
	dir := t.TempDir()
	stays := []string{"1000", "1001", "1002", "1003", "1004"}
	path := writeScoresCSV(t, dir, stays)
	outPath := filepath.Join(dir, "sample.csv")

	selected := map[string]bool{"1001": true, "1004": true}
	var chunks int
	written, err := filterRows(path, outPath, selected, 2, func(chunk, matched int) {
		chunks = chunk
	})
	if err != nil {
		t.Fatalf("filterRows: %v", err)
	}
	if written != 2 {
		t.Errorf("written = %d, want 2", written)
	}
	if chunks != 3 {
		t.Errorf("chunks = %d, want 3 (5 rows at chunk size 2)", chunks)
	}

	file, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open sample: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2 rows", len(records))
	}
	if records[0][2] != "stay_id" {
		t.Errorf("header = %v", records[0])
	}
	// Source row order is preserved.
	if records[1][2] != "1001" || records[2][2] != "1004" {
		t.Errorf("sampled stays = %q, %q, want 1001, 1004", records[1][2], records[2][2])
	}
}

func TestFilterRowsEndToEndSeeded(t *testing.T) {
	dir := t.TempDir()
	stays := []string{"1000", "1001", "1002", "1003", "1004", "1005"}
	path := writeScoresCSV(t, dir, stays)

	ids, err := scanStayIDs(path)
	if err != nil {
		t.Fatalf("scanStayIDs: %v", err)
	}

	var outputs [][]byte
	for i := 0; i < 2; i++ {
		outPath := filepath.Join(dir, "sample"+string(rune('a'+i))+".csv")
		selected := selectStays(ids, 2, 7)
		if _, err := filterRows(path, outPath, selected, 100000, nil); err != nil {
			t.Fatalf("filterRows: %v", err)
		}
		content, err := os.ReadFile(outPath)
		if err != nil {
			t.Fatalf("read sample: %v", err)
		}
		outputs = append(outputs, content)
	}
	if !reflect.DeepEqual(outputs[0], outputs[1]) {
		t.Error("same input and seed must produce identical samples")
	}
}
