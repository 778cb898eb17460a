package main

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/contentguard/internal/moderation"
)

// loopbackBus answers every submission with reply, after first sending a
// result for some other request.
type loopbackBus struct {
	mu      sync.Mutex
	handler func([]byte)
	reply   func(moderation.SubmissionRequest) *moderation.SubmissionResult
	unsub   []string
}

func (b *loopbackBus) SubscribeResults(author string, h func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
	return nil
}

func (b *loopbackBus) UnsubscribeResults(author string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsub = append(b.unsub, author)
	return nil
}

func (b *loopbackBus) Flush() error { return nil }

func (b *loopbackBus) PublishSubmission(data []byte) error {
	var req moderation.SubmissionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	res := b.reply(req)
	if res == nil {
		return nil
	}
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()

	other, _ := json.Marshal(moderation.SubmissionResult{RequestID: "someone-else", Decision: moderation.Allow})
	mine, _ := json.Marshal(res)
	go func() {
		h(other)
		h(mine)
	}()
	return nil
}

func TestRunSubmit_PrintsMatchingResult(t *testing.T) {
	withOutput(t, "text")
	bus := &loopbackBus{reply: func(req moderation.SubmissionRequest) *moderation.SubmissionResult {
		return &moderation.SubmissionResult{
			RequestID: req.RequestID,
			AuthorID:  req.AuthorID,
			Decision:  moderation.Block,
			Reason:    "flagged",
			Verdict:   &moderation.Verdict{IsFlagged: true, Category: "sexual", Source: moderation.SourceDenyList},
		}
	}}

	var buf bytes.Buffer
	req := moderation.SubmissionRequest{RequestID: "r-1", AuthorID: "a-1", ContentType: moderation.ContentPost, Text: "x"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runSubmit(ctx, &buf, bus, req))

	out := buf.String()
	assert.Contains(t, out, "Request:    r-1")
	assert.Contains(t, out, "Decision:   block")
	assert.Contains(t, out, "Category:   sexual")
	assert.Equal(t, []string{"a-1"}, bus.unsub)
}

func TestRunSubmit_TimesOut(t *testing.T) {
	bus := &loopbackBus{reply: func(moderation.SubmissionRequest) *moderation.SubmissionResult { return nil }}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	err := runSubmit(ctx, &buf, bus, moderation.SubmissionRequest{RequestID: "r-2", AuthorID: "a-2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, buf.String())
}
