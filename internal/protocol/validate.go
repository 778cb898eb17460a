package protocol

import (
	"fmt"
	"unicode/utf8"

	"github.com/whisper/contentguard/internal/moderation"
)

const (
	MaxFrameBytes  = 32 * 1024 // largest accepted client frame
	MaxFieldName   = 64
	MaxFieldsPerWS = 8 // fields one connection may track at once
)

// maxChars is the longest draft accepted per content type.
var maxChars = map[moderation.ContentType]int{
	moderation.ContentPost:     10000,
	moderation.ContentComment:  2000,
	moderation.ContentUsername: 32,
}

// ValidateDraft checks a draft before it is handed to a field controller.
// Empty text is valid: it clears the field.
func ValidateDraft(field string, ct moderation.ContentType, text string) error {
	if field == "" {
		return fmt.Errorf("draft field is empty")
	}
	if len(field) > MaxFieldName {
		return fmt.Errorf("draft field exceeds %d bytes", MaxFieldName)
	}
	limit, ok := maxChars[ct]
	if !ok {
		return fmt.Errorf("unknown content type %q", ct)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("draft contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > limit {
		return fmt.Errorf("%s exceeds %d character limit", ct, limit)
	}
	return nil
}
