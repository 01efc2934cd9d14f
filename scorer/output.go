package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// baseColumns is the fixed layout of the final table: identifiers, then
// totals, then components, then the raw and derived clinical values.
// History flags and cohort passthrough columns follow, in source order.
var baseColumns = []string{
	"subject_id",
	"hadm_id",
	"stay_id",
	"sofa_score",
	"apache_score",
	"sofa_platelet",
	"sofa_bilirubin",
	"sofa_creatinine",
	"sofa_gcs",
	"sofa_pf",
	"sofa_cardio_score",
	"apache_creatinine",
	"apache_temp",
	"platelet",
	"bilirubin",
	"creatinine",
	"gcs_eye",
	"gcs_motor",
	"gcs_verbal",
	"gcs_total",
	"pao2",
	"fio2",
	"fio2_fraction",
	"pf_ratio",
	"temperature",
}

func fmtOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// outputRow renders one stay's final row in baseColumns order.
func outputRow(key StayKey, r *StayRecord, s Scores) []string {
	return []string{
		key.SubjectID,
		key.HadmID,
		key.StayID,
		strconv.Itoa(s.SofaScore),
		strconv.Itoa(s.ApacheScore),
		strconv.Itoa(s.SofaPlatelet),
		strconv.Itoa(s.SofaBilirubin),
		strconv.Itoa(s.SofaCreatinine),
		strconv.Itoa(s.SofaGCS),
		strconv.Itoa(s.SofaPF),
		strconv.Itoa(s.SofaCardio),
		strconv.Itoa(s.ApacheCreatinine),
		strconv.Itoa(s.ApacheTemp),
		fmtOpt(r.Platelet),
		fmtOpt(r.Bilirubin),
		fmtOpt(r.Creatinine),
		fmtOpt(r.GCSEye),
		fmtOpt(r.GCSMotor),
		fmtOpt(r.GCSVerbal),
		fmtOpt(r.GCSTotal),
		fmtOpt(r.Pao2),
		fmtOpt(r.Fio2),
		fmtOpt(r.Fio2Fraction),
		fmtOpt(r.PFRatio),
		fmtOpt(r.Temperature),
	}
}

// writeOutput writes the final scores table.
func writeOutput(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
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
