package loadgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/whisper/contentguard/internal/moderation"
)

// DefaultPhrases are typed by simulated editors in turn.
var DefaultPhrases = []string{
	"what a lovely morning for a walk",
	"does anyone know a good recipe for bread",
	"this is total bullshit and you know it",
	"meet me at the usual place tomorrow",
}

// Config describes a typing run.
type Config struct {
	URL           string
	Clients       int
	Drafts        int           // drafts typed per client
	Keystroke     time.Duration // pause between keystrokes; keep below the gateway's debounce delay
	Concurrency   int           // simultaneous dials
	ContentType   moderation.ContentType
	Phrases       []string
	SettleTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Clients <= 0 {
		c.Clients = 10
	}
	if c.Drafts <= 0 {
		c.Drafts = 3
	}
	if c.Keystroke <= 0 {
		c.Keystroke = 80 * time.Millisecond
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 20
	}
	if c.ContentType == "" {
		c.ContentType = moderation.ContentComment
	}
	if len(c.Phrases) == 0 {
		c.Phrases = DefaultPhrases
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 90 * time.Second
	}
}

// Run connects cfg.Clients editors, has each type cfg.Drafts phrases one
// keystroke at a time, and records the results in col. It returns when all
// editors finish or ctx is cancelled.
func Run(ctx context.Context, cfg Config, col *Collector) error {
	cfg.defaults()

	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Clients; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			c, err := Dial(dialCtx, cfg.URL)
			cancel()
			<-sem
			if err != nil {
				col.AddError()
				return
			}
			defer c.Close()
			col.AddConnect(c.ConnectLatency)

			for d := 0; d < cfg.Drafts; d++ {
				field := fmt.Sprintf("draft-%d-%d", idx, d)
				phrase := cfg.Phrases[(idx+d)%len(cfg.Phrases)]
				if err := typeDraft(ctx, c, cfg, col, field, phrase); err != nil {
					col.AddError()
					return
				}
			}
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func typeDraft(ctx context.Context, c *Client, cfg Config, col *Collector, field, phrase string) error {
	runes := []rune(phrase)
	for i := 1; i <= len(runes); i++ {
		if err := c.Edit(field, cfg.ContentType, string(runes[:i])); err != nil {
			return err
		}
		if i < len(runes) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Keystroke):
			}
		}
	}
	last := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.SettleTimeout)
	defer cancel()
	m, checks, err := c.WaitSettled(waitCtx, field, phrase)
	if err != nil {
		return err
	}
	col.AddDraft(time.Since(last), m.State, checks)
	return c.CloseField(field)
}
