package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
)

// scanStayIDs streams the scores file once and returns its unique
// stay_ids in first-appearance order. The stable order is what makes the
// seeded selection reproducible across runs.
func scanStayIDs(path string) ([]string, error) {
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
	stayCol := -1
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == "stay_id" {
			stayCol = i
			break
		}
	}
	if stayCol < 0 {
		return nil, fmt.Errorf("%s: missing required column stay_id", path)
	}

	var ids []string
	seen := make(map[string]bool)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row: %w", path, err)
		}
		if stayCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[stayCol])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// selectStays picks n stay_ids from ids with a seeded permutation.
// Deterministic for a fixed (ids, n, seed); n past the end means all.
func selectStays(ids []string, n int, seed int64) map[string]bool {
	if n > len(ids) {
		n = len(ids)
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(ids))

	selected := make(map[string]bool, n)
	for _, i := range perm[:n] {
		selected[ids[i]] = true
	}
	return selected
}

// filterRows streams the scores file a second time in chunks of
// chunkSize rows, writing only the rows of selected stays. Row order is
// preserved from the source. Returns the number of rows written.
func filterRows(path, outPath string, selected map[string]bool, chunkSize int, progress func(chunk, matched int)) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReaderSize(file, 256*1024))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read %s header: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	stayCol := -1
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == "stay_id" {
			stayCol = i
			break
		}
	}
	if stayCol < 0 {
		return 0, fmt.Errorf("%s: missing required column stay_id", path)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		out.Close()
		return 0, fmt.Errorf("write header: %w", err)
	}

	written := 0
	chunk := 1
	inChunk := 0
	matchedInChunk := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close()
			return 0, fmt.Errorf("read %s row: %w", path, err)
		}
		if stayCol < len(row) && selected[strings.TrimSpace(row[stayCol])] {
			if err := writer.Write(row); err != nil {
				out.Close()
				return 0, fmt.Errorf("write row: %w", err)
			}
			written++
			matchedInChunk++
		}
		inChunk++
		if inChunk == chunkSize {
			if progress != nil {
				progress(chunk, matchedInChunk)
			}
			chunk++
			inChunk = 0
			matchedInChunk = 0
		}
	}
	if inChunk > 0 && progress != nil {
		progress(chunk, matchedInChunk)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		out.Close()
		return 0, err
	}
	return written, out.Close()
}
