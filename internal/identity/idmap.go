// Package identity rewrites user and device identifiers using remap tables
// loaded from CSV.
package identity

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadMap reads an identifier remap table from a CSV file with the required
// header columns old_id,new_id. Rows with a blank old_id are skipped. A
// missing file or malformed header is a fatal load-time error: no events may
// be processed against a half-loaded table.
func LoadMap(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open id map %s: %w", path, err)
	}
	defer f.Close()

	m, err := ReadMap(f)
	if err != nil {
		return nil, fmt.Errorf("id map %s: %w", path, err)
	}
	return m, nil
}

// ReadMap parses the remap table from r.
func ReadMap(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	oldCol, newCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case "old_id":
			oldCol = i
		case "new_id":
			newCol = i
		}
	}
	if oldCol < 0 || newCol < 0 {
		return nil, fmt.Errorf("header must contain old_id and new_id columns, got %v", header)
	}

	mapping := make(map[string]string)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if oldCol >= len(row) {
			continue
		}
		old := strings.TrimSpace(row[oldCol])
		if old == "" {
			continue
		}
		var next string
		if newCol < len(row) {
			next = strings.TrimSpace(row[newCol])
		}
		mapping[old] = next
	}
	return mapping, nil
}
