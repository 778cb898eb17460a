package moderation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	checkPath      = "/check-hate-speech"
	categoriesPath = "/categories"
	statusSuccess  = "success"
)

// Classifier is the remote stage of the pipeline. Client implements it;
// tests substitute their own.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// ClientConfig holds the classifier endpoint settings.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration // whole request, default 60s
	DialTimeout time.Duration // connection establishment, default 5s
	MaxConns    int           // concurrent connections to the classifier, default 1
	UserAgent   string
}

// DefaultClientConfig returns the production defaults. Inference may run on
// constrained hardware, hence the long request timeout.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:     "http://localhost:8000",
		Timeout:     60 * time.Second,
		DialTimeout: 5 * time.Second,
		MaxConns:    1,
		UserAgent:   "contentguard/1.0",
	}
}

// Client calls the remote hate-speech classifier over HTTP. It is safe for
// concurrent use.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

// NewClient builds a Client. At most MaxConns connections to the classifier
// are opened; further requests wait for a free one. Dialing fails fast.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
		MaxConnsPerHost:     cfg.MaxConns,
		MaxIdleConnsPerHost: cfg.MaxConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.DialTimeout,
	}

	rc := resty.New().
		SetTransport(transport).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	c := &Client{http: rc, log: logging.Named("classifier")}

	rc.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		c.log.Debug("classifier request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.log.Debug("classifier response",
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()))
		return nil
	})

	return c
}

type classifyRequest struct {
	Text string `json:"text"`
}

type textMetrics struct {
	WordCount           int     `json:"word_count"`
	AverageWordLength   float64 `json:"average_word_length"`
	AvgWordLength       float64 `json:"avg_word_length"`
	PunctuationCount    int     `json:"punctuation_count"`
	CapitalizationRatio float64 `json:"capitalization_ratio"`
}

type classifyDetails struct {
	EmojiCount int         `json:"emoji_count"`
	TextLength int         `json:"text_length"`
	Metrics    textMetrics `json:"metrics"`
}

type classifyData struct {
	IsHateSpeech    bool            `json:"is_hate_speech"`
	Confidence      float64         `json:"confidence"`
	Category        string          `json:"category"`
	CategoryDetails []string        `json:"category_details"`
	SeverityScore   float64         `json:"severity_score"`
	Details         classifyDetails `json:"details"`
}

type classifyResponse struct {
	Status    string        `json:"status"`
	Data      *classifyData `json:"data"`
	Timestamp string        `json:"timestamp"`
}

type categoriesResponse struct {
	Status    string              `json:"status"`
	Data      map[string][]string `json:"data"`
	Timestamp string              `json:"timestamp"`
}

// Classify sends text to the classifier and normalizes its answer. Failures
// are returned as *ClassifyError.
func (c *Client) Classify(ctx context.Context, text string) (Verdict, error) {
	start := time.Now()
	v, err := c.classify(ctx, text)
	metrics.ClassifyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifyErrors.WithLabelValues(string(KindOf(err))).Inc()
		c.log.Warn("classify failed", zap.Int("text_len", len(text)), zap.Error(err))
	}
	return v, err
}

func (c *Client) classify(ctx context.Context, text string) (Verdict, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(classifyRequest{Text: text}).
		Post(checkPath)
	if err != nil {
		return Verdict{}, transportError(ctx, err)
	}
	if !resp.IsSuccess() {
		return Verdict{}, &ClassifyError{Kind: KindServer, StatusCode: resp.StatusCode()}
	}

	var body classifyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Verdict{}, &ClassifyError{Kind: KindDecoding, Cause: err}
	}
	if body.Status != statusSuccess {
		return Verdict{}, &ClassifyError{Kind: KindInvalidResponse, Status: body.Status}
	}
	if body.Data == nil {
		return Verdict{}, &ClassifyError{Kind: KindDecoding, Cause: errors.New("missing data object")}
	}
	return body.Data.verdict(), nil
}

// Categories fetches the classifier's category → keyword table.
func (c *Client) Categories(ctx context.Context) (map[string][]string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(categoriesPath)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if !resp.IsSuccess() {
		return nil, &ClassifyError{Kind: KindServer, StatusCode: resp.StatusCode()}
	}

	var body categoriesResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &ClassifyError{Kind: KindDecoding, Cause: err}
	}
	if body.Status != statusSuccess {
		return nil, &ClassifyError{Kind: KindInvalidResponse, Status: body.Status}
	}
	if body.Data == nil {
		return map[string][]string{}, nil
	}
	return body.Data, nil
}

func (d *classifyData) verdict() Verdict {
	category := strings.TrimSpace(d.Category)
	if d.IsHateSpeech && (category == "" || strings.EqualFold(category, CategoryNone)) {
		category = CategoryUnknown
	}
	if !d.IsHateSpeech && category == "" {
		category = CategoryNone
	}

	breakdown := make([]string, 0, len(d.CategoryDetails))
	breakdown = append(breakdown, d.CategoryDetails...)

	// Classifier versions disagree on the field name.
	m := d.Details.Metrics
	avg := m.AverageWordLength
	if avg == 0 {
		avg = m.AvgWordLength
	}

	return Verdict{
		IsFlagged:    d.IsHateSpeech,
		Category:     category,
		Confidence:   clamp01(d.Confidence),
		Severity:     clamp01(d.SeverityScore),
		Source:       SourceRemoteClassifier,
		MatchedTerms: []string{},
		Details: Details{
			TextLength:          d.Details.TextLength,
			WordCount:           m.WordCount,
			EmojiCount:          d.Details.EmojiCount,
			PunctuationCount:    m.PunctuationCount,
			AverageWordLength:   avg,
			CapitalizationRatio: clamp01(m.CapitalizationRatio),
			CategoryBreakdown:   breakdown,
		},
	}
}

// transportError separates timeouts from connectivity failures. A deadline on
// the caller's context counts as a timeout too.
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ClassifyError{Kind: KindTimeout, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClassifyError{Kind: KindTimeout, Cause: err}
	}
	return &ClassifyError{Kind: KindNetwork, Cause: err}
}
