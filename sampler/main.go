package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	inFile := flag.String("file", "sofa_apache_scores.csv", "Full scores CSV to sample from")
	outFile := flag.String("out", "sample_sofa_apache_scores.csv", "Output sample CSV")
	sampleSize := flag.Int("n", 100, "Number of stays to sample")
	seed := flag.Int64("seed", 42, "Random seed for reproducible sampling")
	chunkSize := flag.Int("chunk", 100000, "Rows per processing chunk")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `sampler - draw a reproducible random sample of stays from the scores table

Scans the full table for unique stay_ids, selects n of them with a
seeded permutation, then streams the table again and keeps only the
selected stays' rows. The same file, n and seed always produce the same
sample.

Usage:
  sampler [-file sofa_apache_scores.csv] [-out sample_sofa_apache_scores.csv] [-n 100] [-seed 42]

Options:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *sampleSize <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -n must be positive")
		flag.Usage()
		os.Exit(1)
	}

	start := time.Now()

	ids, err := scanStayIDs(*inFile)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.WithField("stays", len(ids)).Info("unique stays found")

	if *sampleSize > len(ids) {
		logrus.WithFields(logrus.Fields{
			"requested": *sampleSize,
			"available": len(ids),
		}).Warn("sample size exceeds available stays, using all of them")
	}

	selected := selectStays(ids, *sampleSize, *seed)
	logrus.WithFields(logrus.Fields{
		"stays": len(selected),
		"seed":  *seed,
	}).Info("stays selected")

	written, err := filterRows(*inFile, *outFile, selected, *chunkSize, func(chunk, matched int) {
		logrus.WithFields(logrus.Fields{
			"chunk":   chunk,
			"matched": matched,
		}).Info("chunk processed")
	})
	if err != nil {
		logrus.Fatal(err)
	}

	logrus.WithFields(logrus.Fields{
		"rows":    written,
		"stays":   len(selected),
		"out":     *outFile,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("sample written")
}
