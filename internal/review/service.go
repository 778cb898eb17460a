// Package review runs submitted posts, comments and usernames through the
// moderation pipeline on a bounded worker pool and publishes the outcome.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/audit"
	"github.com/whisper/contentguard/internal/ban"
	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/metrics"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrQueueFull indicates the job queue is currently saturated.
	ErrQueueFull = errors.New("review: queue full")
	// ErrStopped is returned by Enqueue once Stop has been called.
	ErrStopped = errors.New("review: service stopped")
)

// Result reasons.
const (
	ReasonSuspended   = "author_suspended"
	ReasonRateLimited = "rate_limited"
	ReasonFlagged     = "flagged"
	ReasonCheckFailed = "check_failed"
)

// Suspensions is the part of ban.Store the service uses.
type Suspensions interface {
	IsSuspended(ctx context.Context, author string) (ban.Suspension, error)
	RecordOffense(ctx context.Context, author, category string) (time.Duration, error)
}

// Limiter is the part of ratelimit.Limiter the service uses.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Auditor records decisions.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Publisher delivers results to an author's result subject.
type Publisher interface {
	PublishResult(authorID string, data []byte) error
}

// Deps are the optional collaborators of a Service. A nil field disables
// that step.
type Deps struct {
	Suspensions Suspensions
	Limiter     Limiter
	Auditor     Auditor
	Publisher   Publisher
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	CheckTimeout time.Duration // per submission, on top of the client timeout
}

// Service reviews submissions concurrently.
type Service struct {
	checker moderation.Checker
	gate    *moderation.PolicyGate
	deps    Deps
	timeout time.Duration
	log     *zap.Logger

	jobs    chan moderation.SubmissionRequest
	workers int

	mu      sync.RWMutex // guards stopped and the close of jobs
	stopped bool

	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewService constructs a Service. Call Start before Enqueue.
func NewService(cfg Config, checker moderation.Checker, gate *moderation.PolicyGate, deps Deps) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 90 * time.Second
	}
	if gate == nil {
		gate = moderation.NewPolicyGate(moderation.DefaultGateConfig())
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		checker: checker,
		gate:    gate,
		deps:    deps,
		timeout: cfg.CheckTimeout,
		log:     logging.Named("review"),
		jobs:    make(chan moderation.SubmissionRequest, cfg.QueueSize),
		workers: cfg.Workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches worker goroutines.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.workerLoop()
		}
		s.log.Info("review workers started", zap.Int("workers", s.workers))
	})
}

// Stop lets queued submissions finish and waits for the workers. Later
// calls to Enqueue return ErrStopped.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.jobs)
		s.mu.Unlock()

		s.wg.Wait()
		s.cancel()
	})
}

// Enqueue submits a request for review.
func (s *Service) Enqueue(req moderation.SubmissionRequest) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		metrics.ReviewsTotal.WithLabelValues("stopped").Inc()
		return ErrStopped
	}
	select {
	case s.jobs <- req:
		metrics.ReviewQueueDepth.Set(float64(len(s.jobs)))
		return nil
	default:
		metrics.ReviewsTotal.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// HandleMessage decodes a moderation.check payload and enqueues it.
func (s *Service) HandleMessage(data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		s.log.Warn("bad submission", zap.Error(err))
		return
	}
	if err := s.Enqueue(req); err != nil {
		s.log.Warn("submission dropped",
			zap.String("request_id", req.RequestID),
			zap.String("author_id", req.AuthorID),
			zap.Error(err))
	}
}

// DecodeRequest parses and validates a submission. A missing request id is
// generated; a missing timestamp is set to now.
func DecodeRequest(data []byte) (moderation.SubmissionRequest, error) {
	var req moderation.SubmissionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("review: decode: %w", err)
	}
	if req.AuthorID == "" {
		return req, errors.New("review: missing author_id")
	}
	ct, ok := moderation.ParseContentType(string(req.ContentType))
	if !ok {
		return req, fmt.Errorf("review: unknown content_type %q", req.ContentType)
	}
	req.ContentType = ct
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Ts == 0 {
		req.Ts = time.Now().UnixMilli()
	}
	return req, nil
}

func (s *Service) workerLoop() {
	defer s.wg.Done()
	for req := range s.jobs {
		metrics.ReviewQueueDepth.Set(float64(len(s.jobs)))
		res := s.Review(s.ctx, req)
		s.publish(res)
	}
}

// Review runs one submission through suspension, rate limit, pipeline and
// gate, then records the offense and the audit row. It never returns nil.
func (s *Service) Review(ctx context.Context, req moderation.SubmissionRequest) *moderation.SubmissionResult {
	start := time.Now()
	res := &moderation.SubmissionResult{
		RequestID:   req.RequestID,
		AuthorID:    req.AuthorID,
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
	}
	defer func() {
		metrics.ReviewLatency.Observe(time.Since(start).Seconds())
		label := string(res.Decision)
		if res.Reason == ReasonRateLimited || res.Reason == ReasonSuspended {
			label = res.Reason
		}
		metrics.ReviewsTotal.WithLabelValues(label).Inc()
	}()

	log := s.log.With(zap.String("request_id", req.RequestID), zap.String("author_id", req.AuthorID))

	if s.deps.Suspensions != nil {
		susp, err := s.deps.Suspensions.IsSuspended(ctx, req.AuthorID)
		if err != nil {
			log.Warn("suspension lookup failed, failing open", zap.Error(err))
		} else if susp.Suspended {
			res.Decision = moderation.Block
			res.Reason = ReasonSuspended
			res.Notice = fmt.Sprintf("posting suspended for %s", susp.Remaining.Round(time.Second))
			s.record(ctx, res, nil)
			return res
		}
	}

	if s.deps.Limiter != nil {
		ok, err := s.deps.Limiter.Allow(ctx, req.AuthorID, ratelimit.RuleCheck)
		if err == nil && !ok {
			res.Decision = moderation.Block
			res.Reason = ReasonRateLimited
			return res
		}
	}

	if signal, ok := moderation.DetectSpam(req.Text); ok {
		res.SpamSignal = signal
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	v, checkErr := s.checker.CheckContent(cctx, req.Text)
	cancel()

	gr := s.gate.Decide(v, checkErr, req.ContentType)
	res.Decision = gr.Decision
	res.Notice = gr.Notice

	switch {
	case checkErr != nil:
		res.Reason = ReasonCheckFailed
		res.ErrorKind = moderation.KindOf(checkErr)
		log.Warn("check failed", zap.String("decision", string(res.Decision)), zap.Error(checkErr))
	case v.IsFlagged:
		res.Reason = ReasonFlagged
		vc := v
		res.Verdict = &vc
	default:
		vc := v
		res.Verdict = &vc
	}

	if v.IsFlagged && res.Decision == moderation.Block && s.deps.Suspensions != nil {
		d, err := s.deps.Suspensions.RecordOffense(ctx, req.AuthorID, v.Category)
		if err != nil {
			log.Warn("record offense failed", zap.Error(err))
		} else {
			metrics.SuspensionsTotal.Inc()
			log.Info("author suspended", zap.String("category", v.Category), zap.Duration("duration", d))
		}
	}

	s.record(ctx, res, checkErr)
	return res
}

func (s *Service) record(ctx context.Context, res *moderation.SubmissionResult, checkErr error) {
	if s.deps.Auditor == nil {
		return
	}
	if err := s.deps.Auditor.Record(ctx, audit.EntryFromResult(res, checkErr)); err != nil {
		s.log.Warn("audit record failed", zap.String("request_id", res.RequestID), zap.Error(err))
	}
}

func (s *Service) publish(res *moderation.SubmissionResult) {
	if s.deps.Publisher == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.log.Error("marshal result", zap.Error(err))
		return
	}
	if err := s.deps.Publisher.PublishResult(res.AuthorID, data); err != nil {
		s.log.Warn("publish result failed", zap.String("request_id", res.RequestID), zap.Error(err))
	}
}
