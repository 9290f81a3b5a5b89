// Package fetcher reads the source drop files the pipeline ingests: XLSX
// clinic exports, tracker CSV exports, and KML/KMZ placemark files, fetched
// locally or over HTTP and FTP.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher downloads a remote drop file.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes
	// written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Row is one source row keyed by cleaned header name. Extractors preserve
// every cell verbatim apart from whitespace trimming; interpretation
// belongs to the ingest layer.
type Row map[string]string

// Get returns the first non-empty value among the named columns. Tracker
// exports rename columns between revisions, so most lookups pass variants.
func (r Row) Get(names ...string) string {
	for _, n := range names {
		if v := r[n]; v != "" {
			return v
		}
	}
	return ""
}

// Empty reports whether every cell in the row is blank.
func (r Row) Empty() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

// cleanHeader normalizes one header cell: BOM and padding stripped, inner
// whitespace runs collapsed.
func cleanHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.Fields(h), " ")
}

// zipRow pairs headers with cells into a Row. Missing trailing cells read
// as empty; cells beyond the header width are dropped.
func zipRow(headers, cells []string) Row {
	row := make(Row, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		var v string
		if i < len(cells) {
			v = strings.TrimSpace(cells[i])
		}
		row[h] = v
	}
	return row
}
