// Package moderation screens user-generated posts, comments and usernames
// before they are published. A local deny list answers first; when it finds
// nothing the text is sent to a remote hate-speech classifier. Both answers
// are normalized into a Verdict, and a PolicyGate turns the Verdict into an
// allow/block/warn decision for the content type being submitted.
package moderation

import "strings"

// Source identifies which stage produced a Verdict.
type Source string

const (
	SourceDenyList         Source = "deny_list"
	SourceRemoteClassifier Source = "remote_classifier"
)

// ContentType is the kind of user content being checked.
type ContentType string

const (
	ContentPost     ContentType = "post"
	ContentComment  ContentType = "comment"
	ContentUsername ContentType = "username"
)

// ParseContentType maps a case-insensitive name onto a ContentType.
func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentPost:
		return ContentPost, true
	case ContentComment:
		return ContentComment, true
	case ContentUsername:
		return ContentUsername, true
	}
	return "", false
}

const (
	// CategoryNone is reported for clean verdicts.
	CategoryNone = "none"
	// CategoryUnknown is reported for flagged verdicts that carry no category.
	CategoryUnknown = "unknown"
)

// Details carries the text statistics attached to a Verdict.
type Details struct {
	TextLength          int      `json:"text_length"`
	WordCount           int      `json:"word_count"`
	EmojiCount          int      `json:"emoji_count"`
	PunctuationCount    int      `json:"punctuation_count"`
	AverageWordLength   float64  `json:"average_word_length"`
	CapitalizationRatio float64  `json:"capitalization_ratio"`
	CategoryBreakdown   []string `json:"category_breakdown"`
}

// Verdict is the normalized moderation result, whichever stage produced it.
// IsFlagged implies a non-empty Category.
type Verdict struct {
	IsFlagged    bool     `json:"is_flagged"`
	Category     string   `json:"category"`
	Confidence   float64  `json:"confidence"`
	Severity     float64  `json:"severity"`
	Source       Source   `json:"source"`
	MatchedTerms []string `json:"matched_terms"`
	Details      Details  `json:"details"`
}

// Metadata returns the fields a caller attaches to a post or comment when
// persisting it.
func (v Verdict) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"is_flagged": v.IsFlagged,
		"category":   v.Category,
		"confidence": v.Confidence,
		"severity":   v.Severity,
	}
}

// SubmissionRequest is published to moderation.check when a post, comment
// or username is submitted for review.
type SubmissionRequest struct {
	RequestID   string      `json:"request_id"`
	AuthorID    string      `json:"author_id"`
	ContentID   string      `json:"content_id,omitempty"`
	ContentType ContentType `json:"content_type"`
	Text        string      `json:"text"`
	Ts          int64       `json:"ts"`
}

// SubmissionResult is published back with the review outcome.
type SubmissionResult struct {
	RequestID   string      `json:"request_id"`
	AuthorID    string      `json:"author_id"`
	ContentID   string      `json:"content_id,omitempty"`
	ContentType ContentType `json:"content_type"`
	Decision    Decision    `json:"decision"`
	Reason      string      `json:"reason,omitempty"`
	Notice      string      `json:"notice,omitempty"`
	Verdict     *Verdict    `json:"verdict,omitempty"`
	ErrorKind   ErrorKind   `json:"error_kind,omitempty"`
	SpamSignal  string      `json:"spam_signal,omitempty"`
}

func clamp01(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
