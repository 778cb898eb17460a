package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/protocol"
	"github.com/whisper/contentguard/internal/ratelimit"
)

// Limiter is the subset of ratelimit.Limiter used by the gateway.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// DraftsConfig configures a Drafts handler.
type DraftsConfig struct {
	Delay   time.Duration // debounce delay for draft_edit
	Limiter Limiter       // optional; nil disables draft_check limiting
}

type draftField struct {
	fc *moderation.FieldController
	ct moderation.ContentType
}

// Drafts owns the field controllers of every connection and translates
// draft messages into controller calls. Each field of each connection is
// debounced independently.
type Drafts struct {
	server  *Server
	checker moderation.Checker
	gate    *moderation.PolicyGate
	cfg     DraftsConfig
	log     *zap.Logger

	mu     sync.Mutex
	fields map[string]map[string]*draftField // session ID -> field name
}

// NewDrafts creates a Drafts handler that sends draft_state updates through
// server.
func NewDrafts(server *Server, checker moderation.Checker, gate *moderation.PolicyGate, cfg DraftsConfig) *Drafts {
	return &Drafts{
		server:  server,
		checker: checker,
		gate:    gate,
		cfg:     cfg,
		log:     logging.Named("drafts"),
		fields:  make(map[string]map[string]*draftField),
	}
}

// Register installs the draft handlers on disp.
func (d *Drafts) Register(disp *MessageDispatcher) {
	disp.Register(protocol.TypeDraftEdit, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.DraftEditMsg)
		if !ok {
			return
		}
		d.HandleEdit(conn, m.Field, m.ContentType, m.Text)
	})
	disp.Register(protocol.TypeDraftCheck, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.DraftCheckMsg)
		if !ok {
			return
		}
		d.HandleCheck(conn, m.Field, m.ContentType, m.Text)
	})
	disp.Register(protocol.TypeDraftClose, func(conn *Connection, msg interface{}) {
		m, ok := msg.(protocol.DraftCloseMsg)
		if !ok {
			return
		}
		d.HandleClose(conn, m.Field)
	})
}

// HandleEdit schedules a debounced check of the field's new content.
func (d *Drafts) HandleEdit(conn *Connection, field string, ct moderation.ContentType, text string) {
	fc := d.field(conn, field, ct, text)
	if fc == nil {
		return
	}
	fc.Edit(text)
}

// HandleCheck checks the field immediately, subject to the draft rate limit.
func (d *Drafts) HandleCheck(conn *Connection, field string, ct moderation.ContentType, text string) {
	if !d.allow(conn) {
		return
	}
	fc := d.field(conn, field, ct, text)
	if fc == nil {
		return
	}
	fc.CheckNow(text)
}

// HandleClose drops the field along with any pending or in-flight check.
func (d *Drafts) HandleClose(conn *Connection, field string) {
	d.mu.Lock()
	f, ok := d.fields[conn.ID][field]
	if ok {
		delete(d.fields[conn.ID], field)
	}
	d.mu.Unlock()

	if ok {
		f.fc.Close()
	}
}

// CloseSession releases every field of a connection. It is the server's
// disconnect callback.
func (d *Drafts) CloseSession(connID string) {
	d.mu.Lock()
	fields := d.fields[connID]
	delete(d.fields, connID)
	d.mu.Unlock()

	for _, f := range fields {
		f.fc.Close()
	}
}

// FieldCount returns how many fields connID currently tracks.
func (d *Drafts) FieldCount(connID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fields[connID])
}

// field validates the draft and returns the controller for it, creating one
// on first use. A change of content type replaces the controller.
func (d *Drafts) field(conn *Connection, field string, ct moderation.ContentType, text string) *moderation.FieldController {
	if err := protocol.ValidateDraft(field, ct, text); err != nil {
		d.server.SendError(conn, protocol.CodeInvalidDraft, err.Error())
		return nil
	}

	d.mu.Lock()
	// Eviction closes the session from another goroutine. Once the connection
	// is unregistered no field may be created for it, or CloseSession would
	// have nothing left to release it.
	if d.server.Connections().Get(conn.ID) == nil {
		d.mu.Unlock()
		return nil
	}
	byName := d.fields[conn.ID]
	if byName == nil {
		byName = make(map[string]*draftField)
		d.fields[conn.ID] = byName
	}

	var replaced *moderation.FieldController
	f, ok := byName[field]
	if ok && f.ct != ct {
		replaced = f.fc
		ok = false
	}
	if !ok && replaced == nil && len(byName) >= protocol.MaxFieldsPerWS {
		d.mu.Unlock()
		d.server.SendError(conn, protocol.CodeTooManyFields, "too many open fields")
		return nil
	}
	if !ok {
		f = &draftField{ct: ct, fc: moderation.NewFieldController(d.checker, d.gate, moderation.FieldConfig{
			Field:       field,
			ContentType: ct,
			Delay:       d.cfg.Delay,
			OnUpdate:    d.sender(conn.ID),
		})}
		byName[field] = f
	}
	d.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	return f.fc
}

func (d *Drafts) sender(connID string) func(moderation.FieldUpdate) {
	return func(u moderation.FieldUpdate) {
		data, err := protocol.NewServerMessage(protocol.TypeDraftState, protocol.DraftStateFromUpdate(u))
		if err != nil {
			d.log.Error("build draft_state", zap.Error(err))
			return
		}
		if err := d.server.SendMessage(connID, data); err != nil {
			d.log.Debug("send draft_state failed", zap.String("session", connID), zap.Error(err))
		}
	}
}

func (d *Drafts) allow(conn *Connection) bool {
	if d.cfg.Limiter == nil {
		return true
	}
	ok, err := d.cfg.Limiter.Allow(context.Background(), conn.ID, ratelimit.RuleDraft)
	if err != nil || ok {
		return true
	}

	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: int(ratelimit.RuleDraft.Window.Seconds()),
	})
	if err == nil {
		_ = d.server.write(conn, data)
	}
	return false
}

// ConnectFilter returns a connect filter limiting upgrades per client IP.
func ConnectFilter(l Limiter) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		ok, err := l.Allow(r.Context(), remoteIP(r), ratelimit.RuleConnect)
		return err != nil || ok
	}
}
