package importer

// Preview describes a file before import so a caller can choose a mapping.
type Preview struct {
	Delimiter rune
	HasHeader bool
	Headers   []string
	// Rows holds up to the first few non-blank data rows.
	Rows [][]string
	// Suggested is the mapping Resolve would use with no manual mapping.
	Suggested Mapping
}

// PreviewRows is the number of data rows returned by Inspect.
const PreviewRows = 5

// Inspect detects the delimiter and header and suggests a mapping.
func Inspect(data []byte, opts Options) (*Preview, error) {
	text := normalize(data)
	delim := opts.Delimiter
	if delim == 0 {
		delim = DetectDelimiter(text)
	}

	rows, err := readRows(text, delim, PreviewRows+1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	p := &Preview{Delimiter: delim, HasHeader: opts.HasHeader || LooksLikeHeader(rows[0].cells)}
	if p.HasHeader {
		p.Headers = rows[0].cells
		rows = rows[1:]
	}
	for i, r := range rows {
		if i == PreviewRows {
			break
		}
		p.Rows = append(p.Rows, r.cells)
	}
	p.Suggested = resolveMapping(nil, p.Headers)
	return p, nil
}
