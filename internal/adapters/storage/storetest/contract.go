// Package storetest holds the behaviour every domain.SessionStore must share.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/insurance-agent/internal/domain"
)

// SampleState builds a state that exercises every persisted field.
func SampleState(id domain.SessionID, user domain.UserID) *domain.ConversationState {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	st := domain.NewConversationState(id, user, at)
	st.AppendMessage(domain.RoleUser, "submit a new claim for policy 654321, bumper damage, sedan", at)
	st.AppendMessage(domain.RoleAssistant, "I'm about to submit a new claim. Reply 'yes' to proceed.", at.Add(time.Second))
	st.Context = domain.SessionContext{
		LastRoute: &domain.RouteDecision{
			Route: domain.RouteClaims, Source: domain.RouteSourceRules, Reasoning: "claims keyword", At: at,
		},
		RetrievedDocuments: []domain.DocumentRef{{Title: "Auto Insurance", Preview: "Collision...", Score: 0.75}},
		LastToolResult: &domain.ToolResult{
			Tool: "get_claim_status", Outcome: domain.ToolOutcomeOK,
			Data: json.RawMessage(`{"status":"open"}`), At: at,
		},
		LastError: "claims_api: timeout",
		Extra:     map[string]string{"channel": "web"},
	}
	st.CurrentStep = domain.StepAwaitingConfirmation
	st.SetPending(&domain.PendingAction{
		Executor:  domain.RouteClaims,
		Operation: "submit_claim",
		Params:    map[string]string{"policy_id": "654321", "damage_description": "bumper damage", "vehicle": "sedan"},
		Summary:   "Submit a new claim for policy 654321",
		CreatedAt: at,
	})
	st.UpdatedAt = at.Add(2 * time.Second)
	st.Version = 3
	return st
}

// RunSessionStoreContract checks the load/save contract against a fresh store
// returned by newStore.
func RunSessionStoreContract(t *testing.T, newStore func(t *testing.T) domain.SessionStore) {
	t.Run("unknown session loads fresh state", func(t *testing.T) {
		store := newStore(t)
		st, err := store.Load(context.Background(), "missing", "u-1")
		require.NoError(t, err)
		assert.Equal(t, domain.SessionID("missing"), st.SessionID)
		assert.Equal(t, domain.UserID("u-1"), st.UserID)
		assert.Equal(t, domain.StepStart, st.CurrentStep)
		assert.Empty(t, st.Messages)
		assert.Nil(t, st.PendingAction)
		assert.False(t, st.NeedsConfirmation)
	})

	t.Run("save then load round trips", func(t *testing.T) {
		store := newStore(t)
		want := SampleState("s-round", "u-1")
		require.NoError(t, store.Save(context.Background(), want))

		got, err := store.Load(context.Background(), "s-round", "u-1")
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}

		// persisting the loaded state unchanged is idempotent
		require.NoError(t, store.Save(context.Background(), got))
		again, err := store.Load(context.Background(), "s-round", "u-1")
		require.NoError(t, err)
		if diff := cmp.Diff(got, again); diff != "" {
			t.Fatalf("second round trip mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("later save wins", func(t *testing.T) {
		store := newStore(t)
		st := SampleState("s-overwrite", "u-1")
		require.NoError(t, store.Save(context.Background(), st))

		st.ClearPending()
		st.CurrentStep = domain.StepCancelled
		st.AppendMessage(domain.RoleUser, "no", st.UpdatedAt)
		st.Version++
		require.NoError(t, store.Save(context.Background(), st))

		got, err := store.Load(context.Background(), "s-overwrite", "u-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StepCancelled, got.CurrentStep)
		assert.Nil(t, got.PendingAction)
		assert.Len(t, got.Messages, 3)
		assert.Equal(t, "no", got.Messages[2].Text)
	})

	t.Run("loaded state is not shared", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Save(context.Background(), SampleState("s-copy", "u-1")))

		a, err := store.Load(context.Background(), "s-copy", "u-1")
		require.NoError(t, err)
		a.Messages[0].Text = "mutated"
		a.PendingAction.Params["vehicle"] = "truck"

		b, err := store.Load(context.Background(), "s-copy", "u-1")
		require.NoError(t, err)
		assert.NotEqual(t, "mutated", b.Messages[0].Text)
		assert.Equal(t, "sedan", b.PendingAction.Params["vehicle"])
	})

	t.Run("lists sessions by user", func(t *testing.T) {
		store := newStore(t)
		lister, ok := store.(domain.SessionLister)
		if !ok {
			t.Skip("store does not list sessions")
		}
		older := SampleState("s-old", "u-list")
		older.UpdatedAt = older.UpdatedAt.Add(-time.Hour)
		require.NoError(t, store.Save(context.Background(), older))
		require.NoError(t, store.Save(context.Background(), SampleState("s-new", "u-list")))
		require.NoError(t, store.Save(context.Background(), SampleState("s-other", "u-other")))

		got, err := lister.ListSessionsByUser(context.Background(), "u-list", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.SessionID("s-new"), got[0].ID)
		assert.Equal(t, domain.SessionID("s-old"), got[1].ID)
		assert.Equal(t, 2, got[0].MessageCount)
		assert.True(t, got[0].NeedsConfirmation)

		limited, err := lister.ListSessionsByUser(context.Background(), "u-list", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
