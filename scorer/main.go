package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	cohortFile := flag.String("cohort", "", "Cohort definition CSV with subject_id, hadm_id, stay_id (required)")
	mergedFile := flag.String("merged", filepath.Join("temp_merge_files", "progressive_merge.csv"), "Wide merged variables CSV")
	historyFile := flag.String("history", "", "Medical history CSV with per-stay condition flags (optional)")
	thresholdsFile := flag.String("thresholds", "", "Threshold band table YAML (default: built-in SOFA/APACHE II tables)")
	outFile := flag.String("out", "sofa_apache_scores.csv", "Output scores CSV")
	passthrough := flag.Bool("passthrough", false, "Append the cohort file's extra columns to the output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `scorer - compute SOFA and APACHE II severity scores per ICU stay

Reads the wide merged variable table, derives gcs_total, fio2_fraction
and pf_ratio, applies the ordered threshold band tables, and writes one
row per cohort stay with component and total scores. A variable that was
never observed scores zero in every component that needs it.

Usage:
  scorer -cohort cohort.csv [-merged progressive_merge.csv] [options]

Options:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *cohortFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -cohort is required")
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now()

	thresholds, err := LoadThresholds(*thresholdsFile)
	if err != nil {
		logrus.Fatal(err)
	}

	cohort, err := LoadCohortTable(*cohortFile)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("stays", len(cohort.Keys)).Info("cohort loaded")

	records, err := LoadWideTable(*mergedFile)
	if err != nil {
		logrus.Fatal(err)
	}
	byStay := make(map[string]*StayRecord, len(records))
	for _, r := range records {
		byStay[r.StayID] = r
	}
	logrus.WithFields(logrus.Fields{
		"rows": len(records),
		"file": *mergedFile,
	}).Info("merged variables loaded")

	var history *HistoryTable
	if *historyFile != "" {
		if _, err := os.Stat(*historyFile); os.IsNotExist(err) {
			logrus.WithField("file", *historyFile).Warn("medical history file not found, continuing without it")
		} else {
			history, err = LoadHistory(*historyFile)
			if err != nil {
				logrus.Fatal(err)
			}
			logrus.WithField("conditions", len(history.Conditions)).Info("medical history loaded")
		}
	}

	header := append([]string{}, baseColumns...)
	if history != nil {
		header = append(header, history.Conditions...)
	}
	if *passthrough {
		header = append(header, cohort.Extras...)
	}

	// The cohort drives the output: one row per cohort stay, in cohort
	// order, whether or not the merged table had values for it.
	rows := make([][]string, 0, len(cohort.Keys))
	sofaScores := make([]float64, 0, len(cohort.Keys))
	apacheScores := make([]float64, 0, len(cohort.Keys))
	unmatched := 0
	for _, key := range cohort.Keys {
		r := byStay[key.StayID]
		if r == nil {
			r = &StayRecord{SubjectID: key.SubjectID, HadmID: key.HadmID, StayID: key.StayID}
			unmatched++
		}
		s := ScoreRecord(r, thresholds)
		sofaScores = append(sofaScores, float64(s.SofaScore))
		apacheScores = append(apacheScores, float64(s.ApacheScore))

		row := outputRow(key, r, s)
		if history != nil {
			row = append(row, history.Flags(key.SubjectID, key.HadmID, key.StayID)...)
		}
		if *passthrough {
			row = append(row, cohort.ExtraValues(key.StayID)...)
		}
		rows = append(rows, row)
	}
	if unmatched > 0 {
		logrus.WithField("stays", unmatched).Warn("cohort stays absent from the merged table scored with no variables")
	}

	if err := writeOutput(*outFile, header, rows); err != nil {
		logrus.Fatal(err)
	}

	logScoreSummary("sofa_score", sofaScores)
	logScoreSummary("apache_score", apacheScores)

	logrus.WithFields(logrus.Fields{
		"stays":   len(rows),
		"columns": len(header),
		"out":     *outFile,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("scoring complete")
}
