package main

import (
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// logScoreSummary logs a score column's distribution. Helps spot a
// degenerate run (e.g. every stay scoring zero after a bad extraction)
// without opening the output file.
func logScoreSummary(name string, values []float64) {
	if len(values) == 0 {
		logrus.WithField("score", name).Warn("no scores to summarize")
		return
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	logrus.WithFields(logrus.Fields{
		"score":  name,
		"stays":  len(values),
		"mean":   stat.Mean(sorted, nil),
		"median": stat.Quantile(0.5, stat.Empirical, sorted, nil),
		"min":    sorted[0],
		"max":    sorted[len(sorted)-1],
	}).Info("score distribution")
}
