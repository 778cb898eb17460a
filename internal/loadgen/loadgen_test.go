package loadgen

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/protocol"
	"github.com/whisper/contentguard/internal/ws"
)

type checkerFunc func(ctx context.Context, text string) (moderation.Verdict, error)

func (f checkerFunc) CheckContent(ctx context.Context, text string) (moderation.Verdict, error) {
	return f(ctx, text)
}

func startGateway(t *testing.T) string {
	t.Helper()
	checker := checkerFunc(func(_ context.Context, text string) (moderation.Verdict, error) {
		if strings.Contains(text, "darn") {
			return moderation.Verdict{IsFlagged: true, Category: "profanity", Confidence: 1}, nil
		}
		return moderation.Verdict{Category: moderation.CategoryNone}, nil
	})

	disp := ws.NewMessageDispatcher(nil)
	srv := ws.NewServer(ws.DefaultServerConfig(), disp.Dispatch)
	disp.SetServer(srv)
	drafts := ws.NewDrafts(srv, checker, nil, ws.DraftsConfig{Delay: 60 * time.Millisecond})
	drafts.Register(disp)
	srv.SetOnDisconnect(drafts.CloseSession)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

func TestRun_TypesAndSettles(t *testing.T) {
	url := startGateway(t)
	col := NewCollector()

	err := Run(context.Background(), Config{
		URL:       url,
		Clients:   3,
		Drafts:    10,
		Keystroke: 2 * time.Millisecond,
		Phrases:   []string{"hi there", "oh darn"},
	}, col)
	require.NoError(t, err)

	assert.Equal(t, 0, col.ErrorCount())
	assert.Equal(t, 30, col.Drafts())

	var buf bytes.Buffer
	col.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Connections:  3")
	assert.Contains(t, out, "clean:")
	assert.Contains(t, out, "flagged:")
	assert.Contains(t, out, "Settle Latency")
}

func TestWaitSettled_SkipsEarlierText(t *testing.T) {
	c := &Client{states: make(chan protocol.DraftStateMsg, 8), done: make(chan struct{})}
	c.states <- protocol.DraftStateMsg{Field: "draft-0-1", Text: "hi", State: moderation.StateClean}
	c.states <- protocol.DraftStateMsg{Field: "draft-0-0", Text: "hi there", State: moderation.StateClean}
	c.states <- protocol.DraftStateMsg{Field: "draft-0-1", Text: "hi there", State: moderation.StateChecking}
	c.states <- protocol.DraftStateMsg{Field: "draft-0-1", Text: "hi there", State: moderation.StateFlagged}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, checks, err := c.WaitSettled(ctx, "draft-0-1", "hi there")
	require.NoError(t, err)
	assert.Equal(t, moderation.StateFlagged, m.State)
	assert.Equal(t, "hi there", m.Text)
	assert.Equal(t, 1, checks)
}

func TestDial_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	ds := []time.Duration{5, 1, 4, 2, 3, 10, 9, 8, 7, 6}
	assert.Equal(t, time.Duration(5), Percentile(ds, 0.5))
	assert.Equal(t, time.Duration(10), Percentile(ds, 0.95))
	assert.Equal(t, time.Duration(1), Percentile(ds, 0.01))
	assert.Equal(t, time.Duration(0), Percentile(nil, 0.5))
}
