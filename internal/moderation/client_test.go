package moderation

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flaggedBody = `{
  "status": "success",
  "data": {
    "is_hate_speech": true,
    "confidence": 0.92,
    "category": "harassment",
    "category_details": ["harassment", "profanity"],
    "severity_score": 0.8,
    "details": {
      "emoji_count": 1,
      "text_length": 24,
      "metrics": {"word_count": 5, "average_word_length": 3.8, "punctuation_count": 1, "capitalization_ratio": 0.1}
    }
  },
  "timestamp": "2024-01-01T00:00:00Z"
}`

const cleanBody = `{"status":"success","data":{"is_hate_speech":false,"confidence":0.1,"category":"none","category_details":[],"severity_score":0,"details":{"emoji_count":0,"text_length":15,"metrics":{"word_count":4,"avg_word_length":3}}},"timestamp":"x"}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestClientClassify_Success(t *testing.T) {
	var gotBody, gotCT, gotPath, gotMethod string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotCT, gotPath, gotMethod = string(b), r.Header.Get("Content-Type"), r.URL.Path, r.Method
		respond(http.StatusOK, flaggedBody)(w, r)
	})

	v, err := c.Classify(context.Background(), "you are a terrible person")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/check-hate-speech", gotPath)
	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"text":"you are a terrible person"}`, gotBody)

	assert.True(t, v.IsFlagged)
	assert.Equal(t, "harassment", v.Category)
	assert.InDelta(t, 0.92, v.Confidence, 1e-9)
	assert.InDelta(t, 0.8, v.Severity, 1e-9)
	assert.Equal(t, SourceRemoteClassifier, v.Source)
	assert.Equal(t, []string{}, v.MatchedTerms)
	assert.Equal(t, 24, v.Details.TextLength)
	assert.Equal(t, 5, v.Details.WordCount)
	assert.Equal(t, 1, v.Details.EmojiCount)
	assert.Equal(t, 1, v.Details.PunctuationCount)
	assert.InDelta(t, 3.8, v.Details.AverageWordLength, 1e-9)
	assert.InDelta(t, 0.1, v.Details.CapitalizationRatio, 1e-9)
	assert.Equal(t, []string{"harassment", "profanity"}, v.Details.CategoryBreakdown)
}

func TestClientClassify_Clean(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, cleanBody))

	v, err := c.Classify(context.Background(), "have a nice day")
	require.NoError(t, err)
	assert.False(t, v.IsFlagged)
	assert.Equal(t, CategoryNone, v.Category)
	assert.Equal(t, 4, v.Details.WordCount)
	assert.InDelta(t, 3.0, v.Details.AverageWordLength, 1e-9, "avg_word_length is accepted too")
}

func TestClientClassify_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		flagged    bool
		category   string
		confidence float64
		severity   float64
	}{
		{
			name:       "flagged without category",
			body:       `{"status":"success","data":{"is_hate_speech":true,"confidence":0.7,"category":"","severity_score":0.5}}`,
			flagged:    true,
			category:   CategoryUnknown,
			confidence: 0.7,
			severity:   0.5,
		},
		{
			name:       "flagged with none category",
			body:       `{"status":"success","data":{"is_hate_speech":true,"confidence":0.7,"category":"none","severity_score":0.5}}`,
			flagged:    true,
			category:   CategoryUnknown,
			confidence: 0.7,
			severity:   0.5,
		},
		{
			name:       "clean without category",
			body:       `{"status":"success","data":{"is_hate_speech":false,"confidence":0.2}}`,
			flagged:    false,
			category:   CategoryNone,
			confidence: 0.2,
		},
		{
			name:       "scores clamped",
			body:       `{"status":"success","data":{"is_hate_speech":true,"confidence":1.7,"category":"hate","severity_score":-2}}`,
			flagged:    true,
			category:   "hate",
			confidence: 1,
			severity:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, respond(http.StatusOK, tt.body))
			v, err := c.Classify(context.Background(), "x")
			require.NoError(t, err)
			assert.Equal(t, tt.flagged, v.IsFlagged)
			assert.Equal(t, tt.category, v.Category)
			assert.InDelta(t, tt.confidence, v.Confidence, 1e-9)
			assert.InDelta(t, tt.severity, v.Severity, 1e-9)
			assert.NotNil(t, v.MatchedTerms)
			assert.NotNil(t, v.Details.CategoryBreakdown)
		})
	}
}

func TestClientClassify_Errors(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		kind     ErrorKind
		sentinel error
		status   int
	}{
		{"server error", respond(http.StatusInternalServerError, `oops`), KindServer, ErrServer, 500},
		{"bad gateway", respond(http.StatusBadGateway, ``), KindServer, ErrServer, 502},
		{"client error", respond(http.StatusUnprocessableEntity, `{}`), KindServer, ErrServer, 422},
		{"malformed json", respond(http.StatusOK, `{"status":`), KindDecoding, ErrDecoding, 0},
		{"missing data", respond(http.StatusOK, `{"status":"success"}`), KindDecoding, ErrDecoding, 0},
		{"status error", respond(http.StatusOK, `{"status":"error","data":null}`), KindInvalidResponse, ErrInvalidResponse, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			_, err := c.Classify(context.Background(), "text")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.status, StatusCodeOf(err))
		})
	}
}

func TestClientClassify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 100 * time.Millisecond})
	_, err := c.Classify(context.Background(), "slow")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, KindOf(err).Retryable())
}

func TestClientClassify_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second, DialTimeout: 200 * time.Millisecond})
	_, err := c.Classify(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClientCategories(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		respond(http.StatusOK, `{"status":"success","data":{"hate":["a","b"],"threat":["c"]},"timestamp":"t"}`)(w, r)
	})

	cats, err := c.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/categories", gotPath)
	assert.Equal(t, map[string][]string{"hate": {"a", "b"}, "threat": {"c"}}, cats)
}

func TestClientCategories_ServerError(t *testing.T) {
	c := newTestClient(t, respond(http.StatusServiceUnavailable, ``))
	_, err := c.Categories(context.Background())
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, 503, StatusCodeOf(err))
}

func TestErrorKindRetryable(t *testing.T) {
	assert.True(t, KindNetwork.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindServer.Retryable())
	assert.False(t, KindDecoding.Retryable())
	assert.False(t, KindInvalidResponse.Retryable())
}

func TestClient_MaxConnsBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name     string
		maxConns int
		want     int32
	}{
		{"default serializes", 0, 1},
		{"pool of three", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inFlight, peak atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(150 * time.Millisecond)
				respond(http.StatusOK, cleanBody)(w, r)
			}))
			t.Cleanup(srv.Close)

			c := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second, MaxConns: tt.maxConns})
			var wg sync.WaitGroup
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.Classify(context.Background(), "hello there")
					assert.NoError(t, err)
				}()
			}
			wg.Wait()
			assert.Equal(t, tt.want, peak.Load())
		})
	}
}
