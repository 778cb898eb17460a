// Package audit persists every review decision to PostgreSQL so moderators
// can reconstruct why a submission was blocked or let through.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"

	"github.com/whisper/contentguard/internal/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store manages moderation_decisions rows.
type Store struct {
	db *sql.DB
}

// Entry is one audited decision.
type Entry struct {
	ID           uuid.UUID
	RequestID    string
	AuthorID     string
	ContentID    string
	ContentType  moderation.ContentType
	Decision     moderation.Decision
	IsFlagged    bool
	Category     string
	Confidence   float64
	Severity     float64
	Source       moderation.Source
	MatchedTerms []string
	CheckError   string
}

// EntryFromResult flattens a review result into an Entry.
func EntryFromResult(res *moderation.SubmissionResult, checkErr error) Entry {
	e := Entry{
		ID:           uuid.New(),
		RequestID:    res.RequestID,
		AuthorID:     res.AuthorID,
		ContentID:    res.ContentID,
		ContentType:  res.ContentType,
		Decision:     res.Decision,
		MatchedTerms: []string{},
	}
	if v := res.Verdict; v != nil {
		e.IsFlagged = v.IsFlagged
		e.Category = v.Category
		e.Confidence = v.Confidence
		e.Severity = v.Severity
		e.Source = v.Source
		if v.MatchedTerms != nil {
			e.MatchedTerms = v.MatchedTerms
		}
	}
	if checkErr != nil {
		e.CheckError = checkErr.Error()
	}
	return e
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return db, nil
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts one decision. Matched terms are stored as JSONB.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.MatchedTerms == nil {
		e.MatchedTerms = []string{}
	}
	terms, err := json.Marshal(e.MatchedTerms)
	if err != nil {
		return fmt.Errorf("audit: marshal matched terms: %w", err)
	}

	const query = `
		INSERT INTO moderation_decisions
			(id, request_id, author_id, content_id, content_type, decision,
			 is_flagged, category, confidence, severity, source, matched_terms, check_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		e.AuthorID,
		e.ContentID,
		string(e.ContentType),
		string(e.Decision),
		e.IsFlagged,
		e.Category,
		e.Confidence,
		e.Severity,
		string(e.Source),
		terms,
		e.CheckError,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountFlagged returns the number of flagged decisions recorded for author
// within window.
func (s *Store) CountFlagged(ctx context.Context, author string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_decisions
		WHERE author_id = $1
		  AND is_flagged
		  AND created_at >= NOW() - make_interval(secs => $2)`

	var count int
	err := s.db.QueryRowContext(ctx, query, author, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count flagged: %w", err)
	}
	return count, nil
}
