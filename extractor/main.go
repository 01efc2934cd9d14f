package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/exascience/pargo/parallel"
	"github.com/sirupsen/logrus"
)

// scanJob names one source table scan.
type scanJob struct {
	table string
	path  string
}

// runJobs executes one scan per job, both at once when two tables are
// given. Each job owns disjoint state; the only shared writes are the
// per-job error slots.
func runJobs(run func(scanJob) error, jobs []scanJob) error {
	if len(jobs) == 1 {
		return run(jobs[0])
	}
	errs := make([]error, len(jobs))
	parallel.Do(
		func() { errs[0] = run(jobs[0]) },
		func() { errs[1] = run(jobs[1]) },
	)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cohortFile := flag.String("cohort", "", "Cohort definition CSV with subject_id, hadm_id, stay_id (required)")
	staysFile := flag.String("icustays", "", "ICU stays CSV with stay_id and intime (required)")
	labFile := flag.String("labevents", "", "Laboratory events CSV to extract from")
	chartFile := flag.String("chartevents", "", "Chart events CSV to extract from")
	outDir := flag.String("temp", "temp_merge_files", "Directory for per-variable extraction results")
	catalogFile := flag.String("catalog", "", "Variable catalog YAML (default: built-in MIMIC-IV itemids)")
	window := flag.Duration("window", 24*time.Hour, "Extraction window length after ICU admission")
	chunkSize := flag.Int("chunk", DefaultChunkSize, "Event rows per processing chunk")
	resume := flag.Bool("resume", false, "Resume an interrupted scan from its checkpoint")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `extractor - reduce large ICU event tables to per-variable earliest-in-window values

Streams labevents/chartevents in bounded chunks, keeps the earliest
observation inside each cohort stay's [admission, admission+window)
interval per logical variable, and writes one Parquet file per variable.

Usage:
  extractor -cohort cohort.csv -icustays icustays.csv [-labevents labevents.csv] [-chartevents chartevents.csv] [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Extract labs and vitals for the first 24h of each stay
  extractor -cohort cohort.csv -icustays icustays.csv -labevents labevents.csv -chartevents chartevents.csv

  # 48h window, custom catalog, resumable
  extractor -cohort cohort.csv -icustays icustays.csv -labevents labevents.csv -window 48h -catalog vars.yaml -resume
`)
	}
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *cohortFile == "" || *staysFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -cohort and -icustays are required")
		flag.Usage()
		os.Exit(1)
	}
	if *labFile == "" && *chartFile == "" {
		fmt.Fprintln(os.Stderr, "Error: at least one of -labevents or -chartevents is required")
		flag.Usage()
		os.Exit(1)
	}

	catalog, err := LoadCatalog(*catalogFile)
	if err != nil {
		logrus.Fatal(err)
	}

	cohort, err := LoadCohort(*cohortFile)
	if err != nil {
		logrus.Fatal(err)
	}
	if err := cohort.AttachWindows(*staysFile, *window); err != nil {
		logrus.Fatal(err)
	}
	logrus.WithFields(logrus.Fields{
		"stays":  len(cohort.Stays),
		"window": window.String(),
	}).Info("cohort loaded")

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		logrus.Fatal(err)
	}

	var jobs []scanJob
	if *labFile != "" {
		jobs = append(jobs, scanJob{table: TableLabEvents, path: *labFile})
	}
	if *chartFile != "" {
		jobs = append(jobs, scanJob{table: TableChartEvents, path: *chartFile})
	}

	start := time.Now()

	// Each scan owns a disjoint accumulator, so the lab and chart tables
	// can be reduced concurrently and their results written independently.
	runScan := func(job scanJob) error {
		scanner, err := NewEventScanner(job.path, job.table, catalog, cohort, *chunkSize)
		if err != nil {
			return err
		}
		defer scanner.Close()

		ckpt, err := NewCheckpointFile(*outDir, job.table, job.path, *chunkSize, *window)
		if err != nil {
			return err
		}
		if *resume {
			if _, err := ckpt.Resume(scanner); err != nil {
				return err
			}
		}

		if err := scanner.Run(ckpt); err != nil {
			return err
		}

		results, err := WriteResults(scanner.Accumulator(), cohort, *outDir)
		if err != nil {
			return err
		}
		ckpt.Remove()

		for _, r := range results {
			logrus.WithFields(logrus.Fields{
				"table":    job.table,
				"variable": r.Variable,
				"stays":    r.Stays,
				"file":     r.File,
			}).Info("extraction result written")
		}
		return nil
	}

	if err := runJobs(runScan, jobs); err != nil {
		logrus.Fatal(err)
	}

	logrus.WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).Info("extraction complete")
}
