// Package importer turns arbitrary delimited text into credential records.
//
// No fixed schema is required. The delimiter is detected from the content,
// the first row is taken as a header when it looks like one, and the six
// logical fields (url, username, password, note, name, category) are located
// by an explicit mapping, by header synonyms, or by position.
package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/anima-vault/anima/pkg/model"
)

const (
	// DefaultExpirationDays is the rotation period given to imported records.
	DefaultExpirationDays = 90

	// FallbackSite names records with neither a name nor a url.
	FallbackSite = "Imported Entry"

	// sampleRows bounds delimiter detection.
	sampleRows = 20
)

var (
	// ErrNoData means the input held nothing but blank lines.
	ErrNoData = errors.New("importer: no data found in CSV")

	// ErrNoValidRows means rows were present but none could be imported.
	ErrNoValidRows = errors.New("importer: no valid passwords found in CSV")

	// ErrInvalidMapping is returned for column indices below ColumnAuto.
	ErrInvalidMapping = errors.New("importer: invalid column mapping")
)

// Delimiters lists the candidates in tie-break order.
var Delimiters = []rune{',', ';', '\t', '|'}

// headerKeywords mark a first row as a header when any occurs in it.
var headerKeywords = []string{"password", "user", "username", "url", "website", "name", "title"}

// Options replace the interactive import dialog.
type Options struct {
	// Delimiter forces a delimiter; zero detects it.
	Delimiter rune
	// HasHeader forces the first row to be treated as a header.
	HasHeader bool
	// Mapping is the manual column mapping; nil means none was supplied.
	Mapping *Mapping
	// Now stamps CreatedAt; zero uses time.Now.
	Now time.Time
}

// Result summarises an import.
type Result struct {
	Records       []model.Record
	ImportedCount int
	SkippedCount  int
	// ProblemRows are the 1-based positions of skipped rows among the
	// non-blank rows, header included.
	ProblemRows []int

	Delimiter rune
	HasHeader bool
	Headers   []string
	// Mapping is the mapping after Auto fields were resolved.
	Mapping Mapping
}

type row struct {
	// index is the 1-based position among non-blank rows.
	index int
	cells []string
}

// Resolve parses data and builds records per opts. When rows exist but none
// is valid, a header with no data rows included, it returns the populated
// Result together with ErrNoValidRows.
func Resolve(data []byte, opts Options) (*Result, error) {
	if opts.Mapping != nil {
		if err := opts.Mapping.validate(); err != nil {
			return nil, err
		}
	}

	text := normalize(data)
	delim := opts.Delimiter
	if delim == 0 {
		delim = DetectDelimiter(text)
	}

	rows, err := readRows(text, delim, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	hasHeader := opts.HasHeader || LooksLikeHeader(rows[0].cells)
	var headers []string
	if hasHeader {
		headers = rows[0].cells
		rows = rows[1:]
	}

	mapping := resolveMapping(opts.Mapping, headers)
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	result := &Result{
		Delimiter: delim,
		HasHeader: hasHeader,
		Headers:   headers,
		Mapping:   mapping,
	}
	for _, r := range rows {
		rec, ok := buildRecord(r.cells, mapping, now)
		if !ok {
			result.SkippedCount++
			result.ProblemRows = append(result.ProblemRows, r.index)
			continue
		}
		result.Records = append(result.Records, rec)
		result.ImportedCount++
	}

	if result.ImportedCount == 0 {
		return result, ErrNoValidRows
	}
	return result, nil
}

func buildRecord(cells []string, m Mapping, now time.Time) (model.Record, bool) {
	val := func(c Column) string {
		if c < 0 || int(c) >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[c])
	}

	url := val(m.URL)
	password := val(m.Password)
	name := val(m.Name)
	if name == "" {
		name = url
	}
	if (url == "" && name == "") || password == "" {
		return model.Record{}, false
	}

	site := name
	if site == "" {
		site = FallbackSite
	}
	category := val(m.Category)
	if category == "" {
		category = model.CategoryImported
	}

	return model.Record{
		ID:             model.NewID(),
		Site:           site,
		Username:       val(m.Username),
		Note:           val(m.Note),
		Category:       category,
		Secret:         password,
		ExpirationDays: DefaultExpirationDays,
		CreatedAt:      now,
		Kind:           model.KindPassword,
	}, true
}

// LooksLikeHeader reports whether the joined lowercase cells contain any
// header keyword. It is a heuristic and may misfire on data rows.
func LooksLikeHeader(cells []string) bool {
	joined := strings.ToLower(strings.Join(cells, " "))
	for _, k := range headerKeywords {
		if strings.Contains(joined, k) {
			return true
		}
	}
	return false
}

// DetectDelimiter picks the candidate giving the most rows with the same
// column count (more than one column) in the first sample rows. Ties go to
// the earlier candidate in Delimiters.
func DetectDelimiter(text string) rune {
	best, bestScore := Delimiters[0], 0
	for _, d := range Delimiters {
		rows, err := readRows(text, d, sampleRows)
		if err != nil || len(rows) == 0 {
			continue
		}

		freq := make(map[int]int)
		for _, r := range rows {
			if len(r.cells) > 1 {
				freq[len(r.cells)]++
			}
		}
		score := 0
		for _, n := range freq {
			if n > score {
				score = n
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// readRows parses text and drops rows whose cells are all blank. limit > 0
// stops after that many non-blank rows.
func readRows(text string, delim rune, limit int) ([]row, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var rows []row
	for limit <= 0 || len(rows) < limit {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("importer: failed to parse CSV: %w", err)
		}
		if isBlank(cells) {
			continue
		}
		rows = append(rows, row{index: len(rows) + 1, cells: cells})
	}
	return rows, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// normalize strips a UTF-8 BOM and applies Unicode NFC.
func normalize(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return norm.NFC.String(string(data))
}
