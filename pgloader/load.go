package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

// scoreColumns is the stay_scores column list, in schema order. The CSV
// header must contain every one of them (extra CSV columns are ignored).
var scoreColumns = []string{
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

// intColumns marks which score columns load as integers; the remainder
// past the key columns are nullable doubles.
var intColumns = map[string]bool{
	"sofa_score":        true,
	"apache_score":      true,
	"sofa_platelet":     true,
	"sofa_bilirubin":    true,
	"sofa_creatinine":   true,
	"sofa_gcs":          true,
	"sofa_pf":           true,
	"sofa_cardio_score": true,
	"apache_creatinine": true,
	"apache_temp":       true,
}

// loadScoresToPg bulk-loads the final scores CSV into stay_scores,
// committing every batchSize rows so an interrupted load keeps its
// completed batches. The embedded schema is applied up front and is
// idempotent.
func loadScoresToPg(ctx context.Context, csvPath, connStr string, batchSize int) (int64, error) {
	start := time.Now()

	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", csvPath, err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, 256*1024))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read %s header: %w", csvPath, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range scoreColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return 0, fmt.Errorf("%s: missing required columns: %s", csvPath, strings.Join(missing, ", "))
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return 0, fmt.Errorf("parse connection: %w", err)
	}
	poolConfig.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return 0, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return 0, fmt.Errorf("apply schema: %w", err)
	}

	var (
		loaded  int64
		rowsIn  int64
		pending [][]any
		lastLog = time.Now()
	)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"stay_scores"},
			scoreColumns,
			pgx.CopyFromRows(pending),
		)
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("copy stay_scores: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		loaded += copied
		pending = pending[:0]
		return nil
	}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return loaded, fmt.Errorf("read %s row: %w", csvPath, err)
		}
		rowsIn++

		values, err := scoreValues(row, idx)
		if err != nil {
			return loaded, fmt.Errorf("%s row %d: %w", csvPath, rowsIn, err)
		}
		pending = append(pending, values)

		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return loaded, err
			}
		}
		if time.Since(lastLog) >= 5*time.Second {
			logrus.WithFields(logrus.Fields{
				"rows":   rowsIn,
				"loaded": loaded,
			}).Info("load progress")
			lastLog = time.Now()
		}
	}
	if err := flush(); err != nil {
		return loaded, err
	}

	logrus.WithFields(logrus.Fields{
		"rows":    loaded,
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("load complete")
	return loaded, nil
}

// scoreValues converts one CSV row to a stay_scores values tuple in
// scoreColumns order. Empty numeric fields become NULL; empty integer
// score fields are invalid input.
func scoreValues(row []string, idx map[string]int) ([]any, error) {
	values := make([]any, 0, len(scoreColumns))
	for _, col := range scoreColumns {
		i := idx[col]
		var field string
		if i < len(row) {
			field = strings.TrimSpace(row[i])
		}

		switch {
		case col == "subject_id" || col == "hadm_id" || col == "stay_id":
			if field == "" {
				return nil, fmt.Errorf("empty %s", col)
			}
			values = append(values, field)
		case intColumns[col]:
			n, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", col, field, err)
			}
			values = append(values, int32(n))
		default:
			if field == "" {
				values = append(values, nil)
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", col, field, err)
			}
			values = append(values, v)
		}
	}
	return values, nil
}
