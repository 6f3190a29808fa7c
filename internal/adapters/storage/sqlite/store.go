package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/insurance-agent/internal/adapters/sqlitedb"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps one row per session holding the full JSON state plus a few
// columns for listing.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path, migrating it if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewConversationState(id, userID, s.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load session %s: %w", id, err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("sqlite decode session %s: %w", id, err)
	}
	return &state, nil
}

// Save upserts the session inside a transaction; it returns only after commit.
func (s *Store) Save(ctx context.Context, state *domain.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("sqlite encode session %s: %w", state.SessionID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, current_step, needs_confirmation, message_count, version, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_step       = excluded.current_step,
			needs_confirmation = excluded.needs_confirmation,
			message_count      = excluded.message_count,
			version            = excluded.version,
			state_json         = excluded.state_json,
			updated_at         = excluded.updated_at`,
		string(state.SessionID),
		string(state.UserID),
		string(state.CurrentStep),
		state.NeedsConfirmation,
		len(state.Messages),
		state.Version,
		string(raw),
		state.CreatedAt.UTC().Format(timeLayout),
		state.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("sqlite save session %s: %w", state.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit session %s: %w", state.SessionID, err)
	}
	return nil
}

// ListSessionsByUser returns the user's sessions, most recently updated first.
func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, current_step, needs_confirmation, message_count, updated_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?`, string(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			sum       domain.SessionSummary
			id, user  string
			step      string
			updatedAt string
		)
		if err := rows.Scan(&id, &user, &step, &sum.NeedsConfirmation, &sum.MessageCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan session: %w", err)
		}
		ts, err := time.Parse(timeLayout, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("sqlite parse updated_at %q: %w", updatedAt, err)
		}
		sum.ID = domain.SessionID(id)
		sum.UserID = domain.UserID(user)
		sum.CurrentStep = domain.Step(step)
		sum.UpdatedAt = ts
		out = append(out, sum)
	}
	return out, rows.Err()
}
