package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

const sessionsCollection = "sessions"

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// NewStore creates a Firestore store for the given project.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection(sessionsCollection)
}

func (s *Store) sessionRef(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// sessionDoc holds the full state as JSON so the round trip is exact; the
// other fields exist for queries.
type sessionDoc struct {
	UserID            string    `firestore:"user_id"`
	CurrentStep       string    `firestore:"current_step"`
	NeedsConfirmation bool      `firestore:"needs_confirmation"`
	MessageCount      int       `firestore:"message_count"`
	Version           int64     `firestore:"version"`
	StateJSON         string    `firestore:"state_json"`
	CreatedAt         time.Time `firestore:"created_at"`
	UpdatedAt         time.Time `firestore:"updated_at"`
}

func (d sessionDoc) summary(id string) domain.SessionSummary {
	return domain.SessionSummary{
		ID:                domain.SessionID(id),
		UserID:            domain.UserID(d.UserID),
		CurrentStep:       domain.Step(d.CurrentStep),
		NeedsConfirmation: d.NeedsConfirmation,
		MessageCount:      d.MessageCount,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toDoc(state *domain.ConversationState) (sessionDoc, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return sessionDoc{}, err
	}
	return sessionDoc{
		UserID:            string(state.UserID),
		CurrentStep:       string(state.CurrentStep),
		NeedsConfirmation: state.NeedsConfirmation,
		MessageCount:      len(state.Messages),
		Version:           state.Version,
		StateJSON:         string(raw),
		CreatedAt:         state.CreatedAt,
		UpdatedAt:         state.UpdatedAt,
	}, nil
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) Load(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.ConversationState, error) {
	snap, err := s.sessionRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.NewConversationState(id, userID, s.now()), nil
		}
		return nil, fmt.Errorf("firestore Load: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore Load decode: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(doc.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("firestore Load state_json: %w", err)
	}
	return &state, nil
}

// Save overwrites the session document; Set returns after the write commits.
func (s *Store) Save(ctx context.Context, state *domain.ConversationState) error {
	doc, err := toDoc(state)
	if err != nil {
		return fmt.Errorf("firestore Save encode: %w", err)
	}

	if _, err := s.sessionRef(state.SessionID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore Save: %w", err)
	}
	return nil
}

// ListSessionsByUser needs a composite index on (user_id, updated_at desc).
func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]domain.SessionSummary, error) {
	q := s.sessionsCol().
		Select("user_id", "current_step", "needs_confirmation", "message_count", "updated_at").
		Where("user_id", "==", string(userID)).
		OrderBy("updated_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.SessionSummary
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListSessionsByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		out = append(out, doc.summary(snap.Ref.ID))
	}
	return out, nil
}
