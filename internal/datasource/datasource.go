// Package datasource loads raw financial-statement data into a panel.
//
// Two sources are supported: a panel workbook (.xlsx or .csv) with one row
// per company and fiscal year, and the CVM DFP extracts (one line per
// account) which the Assembler pivots into the same panel shape. Sources
// may be local paths or http(s) URLs.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// --- Sentinel errors ---

// ErrUnsupportedFormat is returned for files that are neither workbook nor extract formats.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrMissingKeyColumn is returned when a source lacks the entity or year column.
var ErrMissingKeyColumn = errors.New("missing key column")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// Format identifies a source encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// FormatOf infers the format from a path or URL extension.
func FormatOf(name string) (Format, error) {
	if i := strings.IndexAny(name, "?#"); i >= 0 && isURL(name) {
		name = name[:i]
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".html", ".htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "cvmratios/1.0 (+https://dados.cvm.gov.br)"

// HTTPClient is a pre-configured HTTP client with reasonable timeouts.
var HTTPClient = &http.Client{
	Timeout: 60 * time.Second,
}

// doGet performs a GET request, returning the response body.
// The caller is responsible for closing the returned ReadCloser.
func doGet(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "text/csv, text/html, application/octet-stream, */*")

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}
	return resp.Body, nil
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// open returns a reader over a local file or an http(s) URL.
func open(ctx context.Context, src string) (io.ReadCloser, error) {
	if isURL(src) {
		return doGet(ctx, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// readText reads r fully and converts it to UTF-8. CVM publishes its open
// data in ISO-8859-1; input that is already valid UTF-8 is kept as is.
func readText(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = trimBOM(data)
	if utf8.Valid(data) {
		return data, nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("decode latin-1: %w", err)
	}
	return out, nil
}

func trimBOM(b []byte) []byte {
	const bom = "\xef\xbb\xbf"
	if len(b) >= 3 && string(b[:3]) == bom {
		return b[3:]
	}
	return b
}

// sniffDelimiter picks ';' (the CVM convention) or ',' from the header line.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := strings.IndexByte(string(data), '\n'); i >= 0 {
		line = data[:i]
	}
	if strings.Count(string(line), ";") > strings.Count(string(line), ",") {
		return ';'
	}
	return ','
}
