package moderation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestLoadDenyList(t *testing.T) {
	src := strings.Join([]string{
		"# comment line",
		"term,category",
		"Badword, profanity",
		"slur,hate",
		"too,many,columns",
		"lonely",
		",empty_term",
		"nocat,",
		"slur,harassment",
	}, "\n")

	d, err := LoadDenyList(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	tests := []struct {
		name     string
		word     string
		category string
		found    bool
	}{
		{"lowercased on load", "badword", "profanity", true},
		{"lookup is case-insensitive", "BADWORD", "profanity", true},
		{"last duplicate wins", "slur", "harassment", true},
		{"empty category becomes unknown", "nocat", CategoryUnknown, true},
		{"header is not a term", "term", "", false},
		{"short row skipped", "lonely", "", false},
		{"wide row skipped", "too", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, ok := d.Lookup(tt.word)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.category, cat)
		})
	}
}

func TestLoadDenyList_ReadFailureDegrades(t *testing.T) {
	d, err := LoadDenyList(failingReader{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoad)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Len())
	assert.False(t, d.Scan("anything at all").Matched)

	d, err = LoadDenyList(nil)
	assert.ErrorIs(t, err, ErrLoad)
	assert.False(t, d.Scan("x").Matched)
}

func TestLoadDenyListFile_Missing(t *testing.T) {
	d, err := LoadDenyListFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, ErrLoad)
	require.NotNil(t, d)
	assert.Equal(t, 0, d.Len())
}

func TestDefaultDenyList(t *testing.T) {
	d := DefaultDenyList()
	require.Greater(t, d.Len(), 0)

	cat, ok := d.Lookup("porn")
	assert.True(t, ok)
	assert.Equal(t, "sexual", cat)
}

func TestScan(t *testing.T) {
	d := NewDenyList([]BannedTerm{
		{Term: "ass", Category: "profanity"},
		{Term: "slur", Category: "hate"},
		{Term: "threat", Category: "threat"},
	})

	tests := []struct {
		name     string
		text     string
		matched  bool
		term     string
		category string
	}{
		{"empty", "", false, "", ""},
		{"whitespace only", " \t\n ", false, "", ""},
		{"substring does not match", "class assignment", false, "", ""},
		{"whole token matches", "what an ass", true, "ass", "profanity"},
		{"case-insensitive", "SLUR here", true, "slur", "hate"},
		{"first token left to right", "threat and slur", true, "threat", "threat"},
		{"edge punctuation stripped", "you slur!", true, "slur", "hate"},
		{"quoted token", `"ass"`, true, "ass", "profanity"},
		{"inner punctuation kept", "sl-ur", false, "", ""},
		{"tabs and newlines split", "fine\nslur\tok", true, "slur", "hate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Scan(tt.text)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.term, got.Term)
			assert.Equal(t, tt.category, got.Category)
		})
	}
}

func TestScan_NilAndEmptyStore(t *testing.T) {
	var d *DenyList
	assert.False(t, d.Scan("slur").Matched)
	assert.False(t, NewDenyList(nil).Scan("slur").Matched)
}
