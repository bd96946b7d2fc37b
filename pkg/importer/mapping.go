package importer

import (
	"fmt"
	"strings"
)

// Column locates a logical field: a 0-based index, ColumnNone or ColumnAuto.
type Column int

const (
	ColumnAuto Column = -2
	ColumnNone Column = -1
)

// Mapping assigns a column to each logical field.
type Mapping struct {
	URL      Column `json:"url"`
	Username Column `json:"username"`
	Password Column `json:"password"`
	Note     Column `json:"note"`
	Name     Column `json:"name"`
	Category Column `json:"category"`
}

// AutoMapping leaves every field to header detection.
func AutoMapping() Mapping {
	return Mapping{ColumnAuto, ColumnAuto, ColumnAuto, ColumnAuto, ColumnAuto, ColumnAuto}
}

// positionalMapping is used for header-less files without a manual mapping.
var positionalMapping = Mapping{URL: 0, Username: 1, Password: 2, Note: 3, Name: 4, Category: 5}

// synonyms are matched in order against trimmed lowercase header cells.
var synonyms = struct {
	url, username, password, note, name, category []string
}{
	url:      []string{"url", "website", "web address", "address", "site", "domain"},
	username: []string{"username", "user", "login", "email address", "email"},
	password: []string{"password", "passcode"},
	note:     []string{"note", "notes", "comment", "comments"},
	name:     []string{"name", "title", "label", "site", "website"},
	category: []string{"category", "group", "folder"},
}

func (m *Mapping) columns() []*Column {
	return []*Column{&m.URL, &m.Username, &m.Password, &m.Note, &m.Name, &m.Category}
}

func (m Mapping) validate() error {
	for i, c := range m.columns() {
		if *c < ColumnAuto {
			return fmt.Errorf("%w: field %d has index %d", ErrInvalidMapping, i, *c)
		}
	}
	return nil
}

// manual reports whether any field names a concrete column.
func (m Mapping) manual() bool {
	for _, c := range m.columns() {
		if *c >= 0 {
			return true
		}
	}
	return false
}

// headerMapping resolves every field from header synonyms.
func headerMapping(headers []string) Mapping {
	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	find := func(names []string) Column {
		for _, n := range names {
			for i, h := range lower {
				if h == n {
					return Column(i)
				}
			}
		}
		return ColumnNone
	}
	return Mapping{
		URL:      find(synonyms.url),
		Username: find(synonyms.username),
		Password: find(synonyms.password),
		Note:     find(synonyms.note),
		Name:     find(synonyms.name),
		Category: find(synonyms.category),
	}
}

// resolveMapping applies the precedence rules: with no manual mapping every
// field comes from the header, or from position when there is no header;
// with a manual mapping only Auto fields are resolved, from the header when
// present and to None otherwise.
func resolveMapping(m *Mapping, headers []string) Mapping {
	if m == nil || !m.manual() {
		if headers != nil {
			return headerMapping(headers)
		}
		return positionalMapping
	}

	auto := Mapping{ColumnNone, ColumnNone, ColumnNone, ColumnNone, ColumnNone, ColumnNone}
	if headers != nil {
		auto = headerMapping(headers)
	}

	out := *m
	dst, src := out.columns(), auto.columns()
	for i, c := range dst {
		if *c == ColumnAuto {
			*c = *src[i]
		}
	}
	return out
}
