package moderation

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

//go:embed data/denylist.csv
var bundledDenyList []byte

// BannedTerm is one row of the deny-list table.
type BannedTerm struct {
	Term     string
	Category string
}

// DenyList maps offensive terms to their category. It is built once and never
// mutated afterwards, so concurrent lookups need no locking.
type DenyList struct {
	terms map[string]string // term -> category
}

// ScanResult reports the first deny-list hit in a text, if any.
type ScanResult struct {
	Matched  bool
	Category string
	Term     string
}

// NewDenyList builds a store from terms. Terms are lowercased and trimmed;
// empty terms are skipped and the last duplicate wins.
func NewDenyList(terms []BannedTerm) *DenyList {
	d := &DenyList{terms: make(map[string]string, len(terms))}
	for _, t := range terms {
		d.add(t.Term, t.Category)
	}
	return d
}

func (d *DenyList) add(term, category string) {
	term = strings.ToLower(strings.TrimSpace(term))
	category = strings.TrimSpace(category)
	if term == "" {
		return
	}
	if category == "" {
		category = CategoryUnknown
	}
	d.terms[term] = category
}

// LoadDenyList parses a two-column "term,category" table. Rows with the wrong
// column count or an empty term are skipped, "#" lines are comments and a
// leading "term,category" header is ignored.
//
// A read failure yields an always-miss store together with an error wrapping
// ErrLoad; the returned store is always usable.
func LoadDenyList(r io.Reader) (*DenyList, error) {
	d := &DenyList{terms: make(map[string]string)}
	if r == nil {
		return d, fmt.Errorf("%w: no source", ErrLoad)
	}

	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			return &DenyList{terms: make(map[string]string)}, fmt.Errorf("%w: %v", ErrLoad, err)
		}
		if len(rec) != 2 {
			continue
		}
		if first && strings.EqualFold(strings.TrimSpace(rec[0]), "term") &&
			strings.EqualFold(strings.TrimSpace(rec[1]), "category") {
			first = false
			continue
		}
		first = false
		d.add(rec[0], rec[1])
	}
	return d, nil
}

// LoadDenyListFile loads the table at path. A missing or unreadable file
// yields an always-miss store and an error wrapping ErrLoad.
func LoadDenyListFile(path string) (*DenyList, error) {
	f, err := os.Open(path)
	if err != nil {
		return &DenyList{terms: make(map[string]string)}, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer f.Close()
	return LoadDenyList(f)
}

// DefaultDenyList loads the table bundled into the binary.
func DefaultDenyList() *DenyList {
	d, _ := LoadDenyList(bytes.NewReader(bundledDenyList))
	return d
}

// Len returns the number of terms in the store.
func (d *DenyList) Len() int {
	if d == nil {
		return 0
	}
	return len(d.terms)
}

// Lookup returns the category of an exact term. The word is lowercased
// before the lookup.
func (d *DenyList) Lookup(word string) (string, bool) {
	if d == nil || len(d.terms) == 0 {
		return "", false
	}
	cat, ok := d.terms[strings.ToLower(word)]
	return cat, ok
}

// Scan splits text on whitespace and returns the first token, left to right,
// that is present in the store. A token that misses is retried once with its
// surrounding punctuation stripped; matching is always whole-token.
func (d *DenyList) Scan(text string) ScanResult {
	if d.Len() == 0 {
		return ScanResult{}
	}
	for _, tok := range strings.FieldsFunc(text, unicode.IsSpace) {
		tok = strings.ToLower(tok)
		if cat, ok := d.terms[tok]; ok {
			return ScanResult{Matched: true, Category: cat, Term: tok}
		}
		trimmed := strings.TrimFunc(tok, isEdgePunct)
		if trimmed == "" || trimmed == tok {
			continue
		}
		if cat, ok := d.terms[trimmed]; ok {
			return ScanResult{Matched: true, Category: cat, Term: trimmed}
		}
	}
	return ScanResult{}
}

func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
