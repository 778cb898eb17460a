package moderation

import (
	"sync"
	"time"
)

// DraftState is the moderation state of one content draft.
type DraftState string

const (
	StateIdle        DraftState = "idle"
	StateChecking    DraftState = "checking"
	StateClean       DraftState = "clean"
	StateFlagged     DraftState = "flagged"
	StateCheckFailed DraftState = "check_failed"
)

// FieldUpdate is delivered on every state change of a field.
type FieldUpdate struct {
	Field     string
	State     DraftState
	Decision  Decision
	CanSubmit bool
	Verdict   *Verdict
	Err       error
	Notice    string
	Text      string
}

// FieldConfig configures a FieldController.
type FieldConfig struct {
	Field       string
	ContentType ContentType
	Delay       time.Duration
	OnUpdate    func(FieldUpdate)
}

// FieldController drives one input field through
// Idle → Checking → {Clean, Flagged, CheckFailed}. Edits are debounced;
// an edit returns the field to Idle until its timer fires and emits that
// Idle update. Results for text that has since been edited are dropped.
//
// OnUpdate runs synchronously and must not call back into the controller.
type FieldController struct {
	field    string
	ct       ContentType
	delay    time.Duration
	gate     *PolicyGate
	onUpdate func(FieldUpdate)
	deb      *Debouncer

	emitMu sync.Mutex // keeps updates in the order their state changes happened

	mu       sync.Mutex
	seq      uint64 // debounce sequence of the current text
	state    DraftState
	decision Decision
	notice   string
	text     string
}

// NewFieldController wires a controller to a checker and gate.
func NewFieldController(checker Checker, gate *PolicyGate, cfg FieldConfig) *FieldController {
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if gate == nil {
		gate = NewPolicyGate(DefaultGateConfig())
	}
	fc := &FieldController{
		field:    cfg.Field,
		ct:       cfg.ContentType,
		delay:    cfg.Delay,
		gate:     gate,
		onUpdate: cfg.OnUpdate,
		state:    StateIdle,
	}
	fc.deb = NewDebouncer(checker, DebounceHooks{
		OnStart:  fc.onStart,
		OnResult: fc.onResult,
	})
	return fc
}

// Edit records new field content and restarts the debounce window.
func (fc *FieldController) Edit(text string) {
	fc.reset(text, fc.delay)
}

// CheckNow checks text without waiting for the debounce window, as when the
// author presses submit or retries after a failure.
func (fc *FieldController) CheckNow(text string) {
	fc.reset(text, 0)
}

// reset moves the field to Idle for text and schedules its check. The new
// sequence is recorded under fc.mu, so hooks of any earlier check are ignored
// from here on.
func (fc *FieldController) reset(text string, delay time.Duration) {
	fc.emitMu.Lock()
	defer fc.emitMu.Unlock()

	fc.mu.Lock()
	seq, ok := fc.deb.schedule(text, delay)
	if !ok {
		fc.mu.Unlock()
		return
	}
	fc.seq = seq
	fc.text = text
	fc.state = StateIdle
	fc.decision = ""
	fc.notice = ""
	upd := fc.snapshot(nil, nil)
	fc.mu.Unlock()
	fc.emit(upd)
}

// State returns the current draft state.
func (fc *FieldController) State() DraftState {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.state
}

// Decision returns the gate decision of the last delivered check, or ""
// when none applies to the current text.
func (fc *FieldController) Decision() Decision {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.decision
}

// CanSubmit is true in Clean, and in CheckFailed when the failure policy let
// the content through with a warning.
func (fc *FieldController) CanSubmit() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return canSubmit(fc.state, fc.decision)
}

func canSubmit(state DraftState, d Decision) bool {
	switch state {
	case StateClean:
		return true
	case StateCheckFailed:
		return d == WarnButAllow
	}
	return false
}

// Debounce exposes the underlying debounce state.
func (fc *FieldController) Debounce() DebounceState {
	return fc.deb.State()
}

// Close stops the field. No update is delivered afterwards.
func (fc *FieldController) Close() {
	fc.deb.Close()
}

func (fc *FieldController) onStart(seq uint64, text string) {
	fc.emitMu.Lock()
	defer fc.emitMu.Unlock()

	fc.mu.Lock()
	if seq != fc.seq {
		fc.mu.Unlock()
		return
	}
	fc.state = StateChecking
	upd := fc.snapshot(nil, nil)
	upd.Text = text
	fc.mu.Unlock()
	fc.emit(upd)
}

func (fc *FieldController) onResult(o Outcome) {
	res := fc.gate.Decide(o.Verdict, o.Err, fc.ct)

	fc.emitMu.Lock()
	defer fc.emitMu.Unlock()

	fc.mu.Lock()
	if o.Seq != fc.seq {
		fc.mu.Unlock()
		return
	}
	switch {
	case o.Err != nil:
		fc.state = StateCheckFailed
	case o.Verdict.IsFlagged:
		fc.state = StateFlagged
	default:
		fc.state = StateClean
	}
	fc.decision = res.Decision
	fc.notice = res.Notice

	var v *Verdict
	if o.Err == nil {
		vc := o.Verdict
		v = &vc
	}
	upd := fc.snapshot(v, o.Err)
	upd.Text = o.Text
	fc.mu.Unlock()
	fc.emit(upd)
}

// snapshot must be called with fc.mu held.
func (fc *FieldController) snapshot(v *Verdict, err error) FieldUpdate {
	return FieldUpdate{
		Field:     fc.field,
		State:     fc.state,
		Decision:  fc.decision,
		CanSubmit: canSubmit(fc.state, fc.decision),
		Verdict:   v,
		Err:       err,
		Notice:    fc.notice,
		Text:      fc.text,
	}
}

func (fc *FieldController) emit(u FieldUpdate) {
	if fc.onUpdate != nil {
		fc.onUpdate(u)
	}
}
