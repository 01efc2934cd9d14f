package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// StayRecord is one cohort stay's worth of clinical variables from the
// wide merged table. Raw fields are nil when the merge produced no value
// for the stay; derived fields are nil until Derive runs.
type StayRecord struct {
	SubjectID string
	HadmID    string
	StayID    string

	Platelet    *float64
	Bilirubin   *float64
	Creatinine  *float64
	Pao2        *float64
	Fio2        *float64
	Temperature *float64
	MAP         *float64
	GCSEye      *float64
	GCSMotor    *float64
	GCSVerbal   *float64
	SofaCardio  *float64

	// Derived by Derive.
	GCSTotal     *float64
	Fio2Fraction *float64
	PFRatio      *float64
}

// LoadWideTable reads the progressive merge output into per-stay records,
// in file order. Columns the scorer does not know are ignored; known
// columns that are absent simply leave their fields nil.
func LoadWideTable(path string) ([]*StayRecord, error) {
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

	var records []*StayRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", path, err)
		}
		r := &StayRecord{
			SubjectID: cleanID(row, idx["subject_id"]),
			HadmID:    cleanID(row, idx["hadm_id"]),
			StayID:    cleanID(row, idx["stay_id"]),
		}
		if r.StayID == "" {
			continue
		}
		r.Platelet = optFloat(row, idx, "platelet")
		r.Bilirubin = optFloat(row, idx, "bilirubin")
		r.Creatinine = optFloat(row, idx, "creatinine")
		r.Pao2 = optFloat(row, idx, "pao2")
		r.Fio2 = optFloat(row, idx, "fio2")
		r.Temperature = optFloat(row, idx, "temperature")
		r.MAP = optFloat(row, idx, "map")
		r.GCSEye = optFloat(row, idx, "gcs_eye")
		r.GCSMotor = optFloat(row, idx, "gcs_motor")
		r.GCSVerbal = optFloat(row, idx, "gcs_verbal")
		r.SofaCardio = optFloat(row, idx, "sofa_cardio")
		records = append(records, r)
	}
	return records, nil
}

func cleanID(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(row[i]), ".0")
}

// optFloat parses an optional numeric field. Empty, absent, and
// unparseable fields are all nil; absence is never conflated with zero.
func optFloat(row []string, idx map[string]int, col string) *float64 {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return nil
	}
	s := strings.TrimSpace(row[i])
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
