// Package api serves the synchronous HTTP surface of the moderator: one-shot
// content checks, the classifier's category list, health and metrics, and
// token-guarded admin routes over author suspensions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
	"github.com/whisper/contentguard/internal/metrics"
	"github.com/whisper/contentguard/internal/moderation"
	"github.com/whisper/contentguard/internal/protocol"
	"github.com/whisper/contentguard/internal/ratelimit"
)

// Categorizer lists the classifier's categories.
type Categorizer interface {
	Categories(ctx context.Context) (map[string][]string, error)
}

// Limiter is the subset of ratelimit.Limiter the API uses.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
}

// Options wires the API's collaborators. Categories and Limiter are optional.
// The admin routes are mounted only when both AdminToken and Suspensions are
// set; History adds flag counts to them.
type Options struct {
	Checker      moderation.Checker
	Gate         *moderation.PolicyGate
	Categories   Categorizer
	Limiter      Limiter
	CheckTimeout time.Duration

	AdminToken  string
	Suspensions Suspensions
	History     FlagHistory
}

type handler struct {
	opts Options
	log  *zap.Logger
}

// CheckRequest is the body of POST /v1/check.
type CheckRequest struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type" binding:"required"`
}

// CheckResponse is the reply to POST /v1/check. A failed check is still a
// 200: the decision says what the caller should do.
type CheckResponse struct {
	Verdict   *moderation.Verdict  `json:"verdict,omitempty"`
	Decision  moderation.Decision  `json:"decision"`
	Notice    string               `json:"notice,omitempty"`
	ErrorKind moderation.ErrorKind `json:"error_kind,omitempty"`
	Retryable bool                 `json:"retryable,omitempty"`
}

// NewRouter builds the gin engine.
func NewRouter(opts Options) *gin.Engine {
	if opts.Gate == nil {
		opts.Gate = moderation.NewPolicyGate(moderation.DefaultGateConfig())
	}
	h := &handler{opts: opts, log: logging.Named("api")}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(h.log))

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	if opts.Limiter != nil {
		v1.Use(rateLimit(opts.Limiter, ratelimit.RuleCheck))
	}
	v1.POST("/check", h.check)
	v1.GET("/categories", h.categories)

	if opts.AdminToken != "" && opts.Suspensions != nil {
		admin := r.Group("/admin", adminAuth(opts.AdminToken))
		admin.GET("/authors/:id", h.authorStatus)
		admin.DELETE("/authors/:id/suspension", h.liftSuspension)
	}
	return r
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ct, ok := moderation.ParseContentType(req.ContentType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown content_type"})
		return
	}
	if err := protocol.ValidateDraft("text", ct, req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.opts.Checker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checker not configured"})
		return
	}

	ctx := c.Request.Context()
	if h.opts.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.CheckTimeout)
		defer cancel()
	}

	v, err := h.opts.Checker.CheckContent(ctx, req.Text)
	res := h.opts.Gate.Decide(v, err, ct)

	resp := CheckResponse{Decision: res.Decision, Notice: res.Notice}
	if err != nil {
		resp.ErrorKind = moderation.KindOf(err)
		resp.Retryable = resp.ErrorKind.Retryable()
		h.log.Warn("check failed",
			zap.String("content_type", string(ct)),
			zap.Int("text_len", len(req.Text)),
			zap.String("kind", string(resp.ErrorKind)),
			zap.Error(err))
	} else {
		resp.Verdict = &v
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) categories(c *gin.Context) {
	if h.opts.Categories == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "classifier not configured"})
		return
	}
	cats, err := h.opts.Categories.Categories(c.Request.Context())
	if err != nil {
		h.log.Warn("categories failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      "classifier unavailable",
			"error_kind": moderation.KindOf(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}
