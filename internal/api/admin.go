package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/ban"
)

// FlagWindow is how far back GET /admin/authors/:id counts flagged decisions.
const FlagWindow = 24 * time.Hour

// Suspensions is the part of ban.Store the admin routes use.
type Suspensions interface {
	IsSuspended(ctx context.Context, author string) (ban.Suspension, error)
	OffenseCount(ctx context.Context, author string) (int, error)
	Lift(ctx context.Context, author string) error
}

// FlagHistory counts audited flagged decisions.
type FlagHistory interface {
	CountFlagged(ctx context.Context, author string, window time.Duration) (int, error)
}

// AuthorStatus is the reply to GET /admin/authors/:id. FlaggedRecent is
// omitted when decisions are not audited.
type AuthorStatus struct {
	AuthorID         string `json:"author_id"`
	Suspended        bool   `json:"suspended"`
	Reason           string `json:"reason,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
	Offenses         int    `json:"offenses"`
	FlaggedRecent    *int   `json:"flagged_24h,omitempty"`
}

// adminAuth requires "Authorization: Bearer <token>".
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *handler) authorStatus(c *gin.Context) {
	author := c.Param("id")
	ctx := c.Request.Context()

	s, err := h.opts.Suspensions.IsSuspended(ctx, author)
	if err != nil {
		h.log.Warn("suspension lookup failed", zap.String("author_id", author), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suspension store unavailable"})
		return
	}
	offenses, err := h.opts.Suspensions.OffenseCount(ctx, author)
	if err != nil {
		h.log.Warn("offense lookup failed", zap.String("author_id", author), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suspension store unavailable"})
		return
	}

	status := AuthorStatus{
		AuthorID:         author,
		Suspended:        s.Suspended,
		Reason:           s.Reason,
		RemainingSeconds: int(s.Remaining.Seconds()),
		Offenses:         offenses,
	}
	if h.opts.History != nil {
		n, err := h.opts.History.CountFlagged(ctx, author, FlagWindow)
		if err != nil {
			h.log.Warn("flag history failed", zap.String("author_id", author), zap.Error(err))
		} else {
			status.FlaggedRecent = &n
		}
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) liftSuspension(c *gin.Context) {
	author := c.Param("id")
	if err := h.opts.Suspensions.Lift(c.Request.Context(), author); err != nil {
		h.log.Warn("lift failed", zap.String("author_id", author), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suspension store unavailable"})
		return
	}
	h.log.Info("suspension lifted", zap.String("author_id", author), zap.String("request_id", c.GetString("request_id")))
	c.Status(http.StatusNoContent)
}
