// Package source reads raw analytics export data, either from local files or
// from the export API, and iterates the NDJSON events inside.
package source

import (
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

// Exports arrive in three shapes: a ZIP of .json.gz or .json members, a bare
// gzip stream, or plain NDJSON. The shape is detected from the leading bytes.
var (
	zipMagic  = []byte("PK")
	gzipMagic = []byte{0x1f, 0x8b}
)

// EventFunc receives each decoded event. Returning an error stops iteration
// and propagates.
type EventFunc func(evt *event.RawEvent) error

// Events auto-detects the export shape of blob and invokes fn for every event
// line. Blank lines and lines that are not valid JSON objects are skipped.
func Events(blob []byte, fn EventFunc) error {
	if len(blob) == 0 {
		return nil
	}
	switch {
	case bytes.HasPrefix(blob, zipMagic):
		return zipEvents(blob, fn)
	case bytes.HasPrefix(blob, gzipMagic):
		return gzipEvents(bytes.NewReader(blob), fn)
	default:
		return lineEvents(bytes.NewReader(blob), fn)
	}
}

// EventsFromFile reads an export file and iterates its events.
func EventsFromFile(path string, fn EventFunc) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read export %s: %w", path, err)
	}
	return Events(blob, fn)
}

// zipEvents walks the archive members in sorted name order, gzipped members
// before plain ones, matching the layout export bundles ship with.
func zipEvents(blob []byte, fn EventFunc) error {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return fmt.Errorf("open export zip: %w", err)
	}

	var gzNames, jsonNames []string
	for _, f := range zr.File {
		name := strings.ToLower(f.Name)
		switch {
		case strings.HasSuffix(name, ".json.gz"):
			gzNames = append(gzNames, f.Name)
		case strings.HasSuffix(name, ".json"):
			jsonNames = append(jsonNames, f.Name)
		}
	}
	sort.Strings(gzNames)
	sort.Strings(jsonNames)

	for _, name := range gzNames {
		if err := zipMember(zr, name, true, fn); err != nil {
			return err
		}
	}
	for _, name := range jsonNames {
		if err := zipMember(zr, name, false, fn); err != nil {
			return err
		}
	}
	return nil
}

func zipMember(zr *zip.Reader, name string, gzipped bool, fn EventFunc) error {
	rc, err := zr.Open(name)
	if err != nil {
		return fmt.Errorf("open zip member %s: %w", name, err)
	}
	defer rc.Close()

	if gzipped {
		return gzipEvents(rc, fn)
	}
	return lineEvents(rc, fn)
}

func gzipEvents(r io.Reader, fn EventFunc) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()
	return lineEvents(gz, fn)
}

func lineEvents(r io.Reader, fn EventFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		evt, err := event.Parse([]byte(line))
		if err != nil {
			continue
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	return sc.Err()
}
