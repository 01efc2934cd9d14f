package main

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ExtractionRow mirrors the schema the extractor writes: one retained
// value per stay per variable.
type ExtractionRow struct {
	SubjectID string  `parquet:"subject_id"`
	HadmID    string  `parquet:"hadm_id"`
	StayID    string  `parquet:"stay_id"`
	Value     float64 `parquet:"value"`
	ChartTime string  `parquet:"charttime"`
}

// ReadExtractionResult loads one per-variable Parquet file.
func ReadExtractionResult(path string) ([]ExtractionRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := parquet.NewGenericReader[ExtractionRow](file)
	defer reader.Close()

	var rows []ExtractionRow
	buf := make([]ExtractionRow, 4096)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return rows, nil
}
