package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/whisper/contentguard/internal/metrics"
)

// Checker is the operation a Debouncer schedules. *Pipeline implements it.
type Checker interface {
	CheckContent(ctx context.Context, text string) (Verdict, error)
}

// Outcome is one delivered check result.
type Outcome struct {
	Seq     uint64
	Text    string
	Verdict Verdict
	Err     error
}

// DebounceHooks are the continuations of a Debouncer. OnStart runs when a
// timer fires and the check begins; OnResult receives the result of the most
// recently scheduled check only. Both run on the timer goroutine, and a hook
// of an older check never runs after a hook of a newer one.
type DebounceHooks struct {
	OnStart  func(seq uint64, text string)
	OnResult func(Outcome)
}

// DebounceState is the per-field view of the debouncer.
type DebounceState struct {
	Pending         bool
	LastCheckedText string
	LastVerdict     *Verdict
}

// Debouncer collapses rapid edits of one field into a single check. Each call
// to CheckContentDebounced invalidates the pending timer before scheduling a
// new one, so only the last text of a burst is checked. A check that is
// already running is not interrupted; its result is dropped on arrival if a
// newer check has been scheduled in the meantime.
//
// One Debouncer belongs to one field; fields never share one.
type Debouncer struct {
	checker Checker
	hooks   DebounceHooks
	ctx     context.Context
	cancel  context.CancelFunc

	deliverMu sync.Mutex // serializes hooks so a stale one cannot overtake a fresh one

	mu           sync.Mutex
	pendingTimer *time.Timer
	scheduled    uint64 // sequence of the latest scheduled check
	lastChecked  string
	lastVerdict  *Verdict
	closed       bool
}

// NewDebouncer creates a Debouncer running checker.
func NewDebouncer(checker Checker, hooks DebounceHooks) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		checker: checker,
		hooks:   hooks,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// CheckContentDebounced schedules a check of text after delay. Earlier calls
// whose delay has not yet elapsed are cancelled, not queued.
func (d *Debouncer) CheckContentDebounced(text string, delay time.Duration) {
	d.schedule(text, delay)
}

// schedule is CheckContentDebounced returning the sequence assigned to the
// new check. ok is false once the Debouncer is closed.
func (d *Debouncer) schedule(text string, delay time.Duration) (seq uint64, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, false
	}

	if d.pendingTimer != nil {
		if d.pendingTimer.Stop() {
			metrics.DebounceCollapsed.Inc()
		}
	}
	if text != d.lastChecked {
		d.lastChecked = ""
		d.lastVerdict = nil
	}

	d.scheduled++
	next := d.scheduled
	d.pendingTimer = time.AfterFunc(delay, func() { d.fire(next, text) })
	return next, true
}

// CheckNow schedules an immediate check of text, superseding any pending one.
func (d *Debouncer) CheckNow(text string) {
	d.CheckContentDebounced(text, 0)
}

func (d *Debouncer) fire(seq uint64, text string) {
	if !d.start(seq, text) {
		return
	}

	v, err := d.checker.CheckContent(d.ctx, text)

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	// A check scheduled after this one started owns the field now, even
	// while its timer is still pending.
	if d.closed || seq != d.scheduled {
		d.mu.Unlock()
		metrics.DebounceDiscarded.Inc()
		return
	}
	d.lastChecked = text
	if err == nil {
		vc := v
		d.lastVerdict = &vc
	} else {
		d.lastVerdict = nil
	}
	d.mu.Unlock()

	if d.hooks.OnResult != nil {
		d.hooks.OnResult(Outcome{Seq: seq, Text: text, Verdict: v, Err: err})
	}
}

// start clears the pending timer and runs OnStart. It reports false when seq
// was superseded before its timer fired.
func (d *Debouncer) start(seq uint64, text string) bool {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	// Stop can lose the race against an expiring timer; the sequence check
	// catches a superseded fire.
	if d.closed || seq != d.scheduled {
		d.mu.Unlock()
		return false
	}
	d.pendingTimer = nil
	d.mu.Unlock()

	if d.hooks.OnStart != nil {
		d.hooks.OnStart(seq, text)
	}
	return true
}

// State returns a snapshot of the debounce state.
func (d *Debouncer) State() DebounceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DebounceState{
		Pending:         d.pendingTimer != nil,
		LastCheckedText: d.lastChecked,
		LastVerdict:     d.lastVerdict,
	}
}

// Close stops the pending timer and suppresses every later delivery. A check
// already in flight sees its context cancelled.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.pendingTimer != nil {
		d.pendingTimer.Stop()
		d.pendingTimer = nil
	}
	d.cancel()
}
