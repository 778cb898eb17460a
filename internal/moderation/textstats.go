package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// TextStats describes the shape of a piece of text. Deny-list verdicts use it
// to fill Details locally, mirroring what the remote classifier reports.
type TextStats struct {
	TextLength          int
	WordCount           int
	EmojiCount          int
	PunctuationCount    int
	AverageWordLength   float64
	CapitalizationRatio float64
}

// AnalyzeText computes TextStats in a single pass over the runes of text.
func AnalyzeText(text string) TextStats {
	var st TextStats
	var letters, upper, wordRunes int
	inWord := false

	for _, r := range text {
		st.TextLength++
		switch {
		case unicode.IsSpace(r):
			inWord = false
			continue
		case isEmoji(r):
			st.EmojiCount++
		case unicode.IsPunct(r):
			st.PunctuationCount++
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if !inWord {
			st.WordCount++
			inWord = true
		}
		wordRunes++
	}

	if st.WordCount > 0 {
		st.AverageWordLength = float64(wordRunes) / float64(st.WordCount)
	}
	if letters > 0 {
		st.CapitalizationRatio = float64(upper) / float64(letters)
	}
	return st
}

// isEmoji reports runes in the pictograph, emoticon, transport, dingbat and
// flag blocks. Variation selectors and joiners are not counted.
func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF, // symbols & pictographs
		r >= 0x1F600 && r <= 0x1F64F, // emoticons
		r >= 0x1F680 && r <= 0x1F6FF, // transport & map
		r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols & pictographs
		r >= 0x1FA70 && r <= 0x1FAFF, // symbols & pictographs extended-A
		r >= 0x1F1E6 && r <= 0x1F1FF, // regional indicators
		r >= 0x2600 && r <= 0x26FF,   // misc symbols
		r >= 0x2700 && r <= 0x27BF:   // dingbats
		return true
	}
	return false
}

// details builds the Details block for a locally produced verdict.
func details(text string, categories ...string) Details {
	st := AnalyzeText(text)
	breakdown := make([]string, 0, len(categories))
	breakdown = append(breakdown, categories...)
	return Details{
		TextLength:          st.TextLength,
		WordCount:           st.WordCount,
		EmojiCount:          st.EmojiCount,
		PunctuationCount:    st.PunctuationCount,
		AverageWordLength:   st.AverageWordLength,
		CapitalizationRatio: st.CapitalizationRatio,
		CategoryBreakdown:   breakdown,
	}
}

var (
	// urlPattern matches http/https URLs, www. URLs, and bare domains on
	// common TLDs. The bare-domain form needs a trailing "/" so that "v2.0"
	// and "3.14" stay clean.
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern is anchored to whitespace so digits inside words and
	// short numbers do not match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

type spamHeuristic struct {
	name  string
	match func(string) bool
}

// spamHeuristics run in order; the first match names the signal.
var spamHeuristics = []spamHeuristic{
	{name: "url", match: urlPattern.MatchString},
	{name: "phone", match: phonePattern.MatchString},
	{name: "char_flood", match: hasCharFlood},
	{name: "word_flood", match: hasWordFlood},
}

// DetectSpam returns the name of the first spam heuristic text trips. The
// signal is informational and never changes a PolicyGate decision.
func DetectSpam(text string) (string, bool) {
	for _, h := range spamHeuristics {
		if h.match(text) {
			return h.name, true
		}
	}
	return "", false
}

// hasCharFlood reports 5 or more consecutive identical runes. RE2 has no
// backreferences, hence the scan.
func hasCharFlood(text string) bool {
	const threshold = 5

	count := 0
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
		} else {
			prev, count = r, 1
		}
		if count >= threshold {
			return true
		}
	}
	return false
}

// hasWordFlood reports the same word 3 or more times in a row, ignoring case.
func hasWordFlood(text string) bool {
	const threshold = 3

	words := strings.Fields(text)
	if len(words) < threshold {
		return false
	}
	count := 0
	prev := ""
	for _, w := range words {
		w = strings.ToLower(w)
		if w == prev {
			count++
		} else {
			prev, count = w, 1
		}
		if count >= threshold {
			return true
		}
	}
	return false
}
