// Package dataset loads input records for simulation runs.
//
// Datasets are JSONL files: one JSON object per line, each a string-keyed
// record. Records are opaque to this package; the simulation core decides
// which fields seed the conversation and which act as counterpart context.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is one dataset entry: a string-keyed mapping of arbitrary values.
type Record map[string]any

// maxLineBytes bounds a single JSONL line (records can carry long transcripts).
const maxLineBytes = 4 * 1024 * 1024

// Load reads all records from a JSONL file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return records, nil
}

// Read parses JSONL records from a reader. Blank lines are skipped.
// Parse failures report the offending line number.
func Read(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}

	return records, nil
}
