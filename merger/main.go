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
	tempDir := flag.String("temp", "temp_merge_files", "Directory holding per-variable extraction results")
	outFile := flag.String("out", "", "Output wide CSV (default: <temp>/progressive_merge.csv)")
	catalogFile := flag.String("catalog", "", "Variable catalog YAML the extraction ran with (default: built-in variables)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `merger - assemble per-variable extraction results into one wide table

Left-joins every extraction result onto the cohort base table, one column
per variable. Every cohort stay survives every merge step; the output has
exactly one row per cohort stay.

Usage:
  merger -cohort cohort.csv [-temp temp_merge_files] [-catalog vars.yaml] [-out progressive_merge.csv]

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
	if *outFile == "" {
		*outFile = filepath.Join(*tempDir, "progressive_merge.csv")
	}

	start := time.Now()

	mergeOrder, err := LoadMergeOrder(*catalogFile)
	if err != nil {
		logrus.Fatal(err)
	}

	cohort, err := LoadCohortKeys(*cohortFile)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("stays", len(cohort)).Info("cohort base table loaded")

	wide := NewWideTable(cohort)

	var merged, missing int
	var droppedTotal int
	for _, mc := range mergeOrder {
		path := filepath.Join(*tempDir, mc.File)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			logrus.WithField("file", mc.File).Warn("extraction result missing, column skipped")
			missing++
			continue
		}

		rows, err := ReadExtractionResult(path)
		if err != nil {
			logrus.Fatal(err)
		}
		dropped, err := wide.MergeResult(mc.Column, rows)
		if err != nil {
			logrus.Fatal(err)
		}
		if dropped > 0 {
			logrus.WithFields(logrus.Fields{
				"column":  mc.Column,
				"dropped": dropped,
			}).Warn("result rows outside the cohort were dropped")
			droppedTotal += dropped
		}
		merged++

		logrus.WithFields(logrus.Fields{
			"column": mc.Column,
			"stays":  len(rows) - dropped,
			"rows":   len(wide.Rows),
		}).Info("column merged")
	}

	if err := wide.WriteCSV(*outFile); err != nil {
		logrus.Fatal(err)
	}

	logrus.WithFields(logrus.Fields{
		"rows":       len(wide.Rows),
		"columns":    len(wide.Columns),
		"merged":     merged,
		"missing":    missing,
		"drift_rows": droppedTotal,
		"out":        *outFile,
		"elapsed":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("merge complete")
}
