package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// ExtractionRow is one stay's retained value for one logical variable:
// the earliest qualifying observation inside the stay's window. Absence of
// a row means no qualifying observation, which is distinct from a value of
// zero.
type ExtractionRow struct {
	SubjectID string  `parquet:"subject_id"`
	HadmID    string  `parquet:"hadm_id"`
	StayID    string  `parquet:"stay_id"`
	Value     float64 `parquet:"value"`
	ChartTime string  `parquet:"charttime"`
}

// VariableResult summarizes one written extraction result file.
type VariableResult struct {
	Variable string
	File     string
	Stays    int
}

// resultFileName is "<prefix>_<variable>.parquet", e.g. lab_creatinine.parquet.
func resultFileName(v Variable) string {
	return fmt.Sprintf("%s_%s.parquet", filePrefix[v.Table], v.Name)
}

// WriteResults persists one Parquet file per catalog variable of the
// accumulator's table. Rows are sorted by stay key and the files are
// written whole, so re-running an unchanged extraction yields
// byte-identical output. A variable with no qualifying observations still
// produces a (row-less) file, which keeps the output set predictable for
// the merge stage.
func WriteResults(acc *Accumulator, cohort *Cohort, dir string) ([]VariableResult, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	perVar := make([][]ExtractionRow, len(acc.Vars))
	for key, b := range acc.best {
		stay := cohort.byStay[key.StayID]
		if stay == nil {
			continue
		}
		perVar[key.VarIdx] = append(perVar[key.VarIdx], ExtractionRow{
			SubjectID: stay.SubjectID,
			HadmID:    stay.HadmID,
			StayID:    stay.StayID,
			Value:     b.Value,
			ChartTime: b.ChartTime.Format(timestampLayout),
		})
	}

	var results []VariableResult
	for i, v := range acc.Vars {
		rows := perVar[i]
		sort.Slice(rows, func(a, b int) bool {
			if len(rows[a].StayID) != len(rows[b].StayID) {
				return len(rows[a].StayID) < len(rows[b].StayID)
			}
			return rows[a].StayID < rows[b].StayID
		})

		path := filepath.Join(dir, resultFileName(v))
		if err := writeResultFile(path, rows); err != nil {
			return nil, err
		}
		results = append(results, VariableResult{Variable: v.Name, File: path, Stays: len(rows)})
	}
	return results, nil
}

func writeResultFile(path string, rows []ExtractionRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := parquet.NewGenericWriter[ExtractionRow](file,
		parquet.Compression(&parquet.Snappy),
	)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			file.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close %s: %w", path, err)
	}
	return file.Close()
}
