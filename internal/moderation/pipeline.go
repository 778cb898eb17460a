package moderation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/metrics"
)

// categorySeverity is the severity assigned to deny-list hits per category.
var categorySeverity = map[string]float64{
	"hate":       1.0,
	"threat":     0.9,
	"harassment": 0.8,
	"sexual":     0.7,
	"profanity":  0.4,
	"spam":       0.3,
}

const defaultSeverity = 0.5

// SeverityFor returns the deny-list severity of a category.
func SeverityFor(category string) float64 {
	if s, ok := categorySeverity[strings.ToLower(category)]; ok {
		return s
	}
	return defaultSeverity
}

// Pipeline runs the two-stage check: deny list first, remote classifier on a
// miss. It holds no per-call state and may be shared by any number of fields.
type Pipeline struct {
	deny       *DenyList
	classifier Classifier
	log        *zap.Logger
}

// NewPipeline wires a deny list and a classifier. A nil deny list behaves as
// an empty one.
func NewPipeline(deny *DenyList, classifier Classifier) *Pipeline {
	if deny == nil {
		deny = NewDenyList(nil)
	}
	metrics.DenyListTerms.Set(float64(deny.Len()))
	return &Pipeline{
		deny:       deny,
		classifier: classifier,
		log:        logging.Named("pipeline"),
	}
}

// DenyList returns the store backing the fast path.
func (p *Pipeline) DenyList() *DenyList { return p.deny }

// CheckContent returns the Verdict for text. A deny-list hit short-circuits
// the remote classifier. When the classifier fails, the zero Verdict is
// returned with a *CheckFailedError; a failed check is never reported as
// clean.
func (p *Pipeline) CheckContent(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		metrics.ChecksTotal.WithLabelValues(string(SourceDenyList), "empty").Inc()
		return Verdict{
			Category:     CategoryNone,
			Source:       SourceDenyList,
			MatchedTerms: []string{},
			Details:      details(text),
		}, nil
	}

	if hit := p.deny.Scan(text); hit.Matched {
		metrics.ChecksTotal.WithLabelValues(string(SourceDenyList), "flagged").Inc()
		p.log.Debug("deny list hit", zap.String("category", hit.Category), zap.Int("text_len", len(text)))
		return Verdict{
			IsFlagged:    true,
			Category:     hit.Category,
			Confidence:   1.0,
			Severity:     SeverityFor(hit.Category),
			Source:       SourceDenyList,
			MatchedTerms: []string{hit.Term},
			Details:      details(text, hit.Category),
		}, nil
	}

	if p.classifier == nil {
		metrics.ChecksTotal.WithLabelValues(string(SourceRemoteClassifier), "failed").Inc()
		return Verdict{}, &CheckFailedError{Err: &ClassifyError{Kind: KindNetwork}}
	}

	v, err := p.classifier.Classify(ctx, text)
	if err != nil {
		metrics.ChecksTotal.WithLabelValues(string(SourceRemoteClassifier), "failed").Inc()
		return Verdict{}, &CheckFailedError{Err: err}
	}

	v.Source = SourceRemoteClassifier
	if v.IsFlagged && v.Category == "" {
		v.Category = CategoryUnknown
	}
	if v.MatchedTerms == nil {
		v.MatchedTerms = []string{}
	}
	outcome := "clean"
	if v.IsFlagged {
		outcome = "flagged"
	}
	metrics.ChecksTotal.WithLabelValues(string(SourceRemoteClassifier), outcome).Inc()
	return v, nil
}
