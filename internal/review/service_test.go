package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/contentguard/internal/audit"
	"github.com/whisper/contentguard/internal/ban"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/ratelimit"
)

type fakeClassifier struct {
	verdict moderation.Verdict
	err     error
}

func (f fakeClassifier) Classify(context.Context, string) (moderation.Verdict, error) {
	return f.verdict, f.err
}

type fakeSuspensions struct {
	mu        sync.Mutex
	suspended map[string]bool
	lookupErr error
	offenses  []string
}

func (f *fakeSuspensions) IsSuspended(_ context.Context, author string) (ban.Suspension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return ban.Suspension{}, f.lookupErr
	}
	if f.suspended[author] {
		return ban.Suspension{Suspended: true, Remaining: 15 * time.Minute, Reason: "hate"}, nil
	}
	return ban.Suspension{}, nil
}

func (f *fakeSuspensions) RecordOffense(_ context.Context, author, category string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offenses = append(f.offenses, author+":"+category)
	return ban.Suspend15Min, nil
}

type fakeLimiter struct{ allow bool }

func (f fakeLimiter) Allow(context.Context, string, ratelimit.Rule) (bool, error) {
	return f.allow, nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAuditor) Record(_ context.Context, e audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakePublisher struct {
	out chan []byte
}

func (f fakePublisher) PublishResult(_ string, data []byte) error {
	f.out <- data
	return nil
}

func newPipeline(c moderation.Classifier) *moderation.Pipeline {
	return moderation.NewPipeline(moderation.DefaultDenyList(), c)
}

func request(ct moderation.ContentType, text string) moderation.SubmissionRequest {
	return moderation.SubmissionRequest{RequestID: "req", AuthorID: "author", ContentType: ct, Text: text}
}

func TestReview(t *testing.T) {
	clean := fakeClassifier{verdict: moderation.Verdict{Category: moderation.CategoryNone}}
	down := fakeClassifier{err: &moderation.ClassifyError{Kind: moderation.KindServer, StatusCode: 500}}

	tests := []struct {
		name     string
		c        moderation.Classifier
		deps     func(*fakeSuspensions) Deps
		req      moderation.SubmissionRequest
		decision moderation.Decision
		reason   string
		errKind  moderation.ErrorKind
		offenses int
		audited  int
	}{
		{
			name:     "clean post allowed",
			c:        clean,
			req:      request(moderation.ContentPost, "have a nice day"),
			decision: moderation.Allow,
			audited:  1,
		},
		{
			name:     "deny list hit blocks and records offense",
			c:        clean,
			req:      request(moderation.ContentComment, "what bullshit"),
			decision: moderation.Block,
			reason:   ReasonFlagged,
			offenses: 1,
			audited:  1,
		},
		{
			name:     "classifier down fails closed for usernames",
			c:        down,
			req:      request(moderation.ContentUsername, "new_name"),
			decision: moderation.Block,
			reason:   ReasonCheckFailed,
			errKind:  moderation.KindServer,
			audited:  1,
		},
		{
			name:     "classifier down warns for posts",
			c:        down,
			req:      request(moderation.ContentPost, "hello"),
			decision: moderation.WarnButAllow,
			reason:   ReasonCheckFailed,
			errKind:  moderation.KindServer,
			audited:  1,
		},
		{
			name: "suspended author blocked without a check",
			c:    clean,
			deps: func(s *fakeSuspensions) Deps {
				s.suspended = map[string]bool{"author": true}
				return Deps{Suspensions: s}
			},
			req:      request(moderation.ContentPost, "hello"),
			decision: moderation.Block,
			reason:   ReasonSuspended,
			audited:  1,
		},
		{
			name: "suspension lookup error fails open",
			c:    clean,
			deps: func(s *fakeSuspensions) Deps {
				s.lookupErr = errors.New("redis down")
				return Deps{Suspensions: s}
			},
			req:      request(moderation.ContentPost, "hello"),
			decision: moderation.Allow,
			audited:  1,
		},
		{
			name: "rate limited author",
			c:    clean,
			deps: func(s *fakeSuspensions) Deps {
				return Deps{Suspensions: s, Limiter: fakeLimiter{allow: false}}
			},
			req:      request(moderation.ContentPost, "hello"),
			decision: moderation.Block,
			reason:   ReasonRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			susp := &fakeSuspensions{}
			deps := Deps{Suspensions: susp}
			if tt.deps != nil {
				deps = tt.deps(susp)
			}
			aud := &fakeAuditor{}
			deps.Auditor = aud

			svc := NewService(Config{Workers: 1, QueueSize: 1}, newPipeline(tt.c), nil, deps)
			res := svc.Review(context.Background(), tt.req)

			require.NotNil(t, res)
			assert.Equal(t, tt.decision, res.Decision)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.errKind, res.ErrorKind)
			assert.Len(t, susp.offenses, tt.offenses)
			assert.Len(t, aud.entries, tt.audited)
		})
	}
}

func TestReview_SpamSignalIsInformational(t *testing.T) {
	svc := NewService(Config{}, newPipeline(fakeClassifier{verdict: moderation.Verdict{Category: moderation.CategoryNone}}), nil, Deps{})
	res := svc.Review(context.Background(), request(moderation.ContentPost, "visit www.example.net now"))
	assert.Equal(t, "url", res.SpamSignal)
	assert.Equal(t, moderation.Allow, res.Decision)
}

func TestService_WorkersPublishResults(t *testing.T) {
	pub := fakePublisher{out: make(chan []byte, 4)}
	svc := NewService(Config{Workers: 2, QueueSize: 4},
		newPipeline(fakeClassifier{verdict: moderation.Verdict{Category: moderation.CategoryNone}}),
		nil, Deps{Publisher: pub})
	svc.Start()
	defer svc.Stop()

	svc.HandleMessage([]byte(`{"author_id":"a1","content_type":"comment","text":"porn"}`))

	select {
	case data := <-pub.out:
		var res moderation.SubmissionResult
		require.NoError(t, json.Unmarshal(data, &res))
		assert.Equal(t, "a1", res.AuthorID)
		assert.Equal(t, moderation.Block, res.Decision)
		assert.NotEmpty(t, res.RequestID)
		require.NotNil(t, res.Verdict)
		assert.Equal(t, "sexual", res.Verdict.Category)
	case <-time.After(2 * time.Second):
		t.Fatal("no result published")
	}
}

func TestService_EnqueueQueueFull(t *testing.T) {
	svc := NewService(Config{Workers: 1, QueueSize: 1}, newPipeline(nil), nil, Deps{})
	// Not started, so nothing drains the queue.
	require.NoError(t, svc.Enqueue(request(moderation.ContentPost, "one")))
	assert.ErrorIs(t, svc.Enqueue(request(moderation.ContentPost, "two")), ErrQueueFull)
}

func TestService_EnqueueAfterStop(t *testing.T) {
	svc := NewService(Config{Workers: 1}, newPipeline(nil), nil, Deps{})
	svc.Start()
	svc.Stop()

	data, err := json.Marshal(request(moderation.ContentPost, "late"))
	require.NoError(t, err)

	// A subscription handler may still fire while the connection drains.
	assert.NotPanics(t, func() { svc.HandleMessage(data) })
	assert.ErrorIs(t, svc.Enqueue(request(moderation.ContentPost, "late")), ErrStopped)
	assert.NotPanics(t, svc.Stop)
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"author_id":"a","content_type":"USERNAME","text":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, moderation.ContentUsername, req.ContentType)
	assert.NotEmpty(t, req.RequestID)
	assert.NotZero(t, req.Ts)

	for _, bad := range []string{
		`not json`,
		`{"content_type":"post","text":"x"}`,
		`{"author_id":"a","content_type":"bio","text":"x"}`,
	} {
		_, err := DecodeRequest([]byte(bad))
		assert.Error(t, err, bad)
	}
}
