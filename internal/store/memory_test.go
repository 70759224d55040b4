package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/credbroker/broker/internal/store"
	"github.com/credbroker/broker/pkg/models"
	"github.com/spf13/afero"
)

// newTestStore creates a fresh in-memory store with no persistence.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore(nil, "")
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func seedCredential(t *testing.T, s store.Store, id, provider string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateCredential(context.Background(), &models.Credential{
		ID: id, Provider: provider, Name: id, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateCredential() error = %v", err)
	}
}

func seedConversation(t *testing.T, s store.Store, id string) {
	t.Helper()
	err := s.CreateConversation(context.Background(), &models.Conversation{
		ID: id, Name: "room " + id, LLMProvider: models.ProviderGemini, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
}

// ─── Credentials ─────────────────────────────────────────────

func TestCredentialStartsDraft(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		seedCredential(t, s, "cred1", models.ProviderGoogleCalendar)

		got, err := s.GetCredential(context.Background(), "cred1")
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if got.Status != models.CredentialStatusDraft {
			t.Errorf("GetCredential().Status = %q, want %q", got.Status, models.CredentialStatusDraft)
		}
	})
}

func TestPutTokenBundleConnectsCredential(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedCredential(t, s, "cred1", models.ProviderGoogleCalendar)

		exp := time.Now().Add(time.Hour).Unix()
		err := s.PutTokenBundle(ctx, &models.TokenBundle{
			CredentialID: "cred1", AccessToken: "at", RefreshToken: "rt", Expiry: &exp, TokenType: "Bearer",
		})
		if err != nil {
			t.Fatalf("PutTokenBundle() error = %v", err)
		}

		cred, _ := s.GetCredential(ctx, "cred1")
		if cred.Status != models.CredentialStatusConnected {
			t.Errorf("Status = %q, want %q", cred.Status, models.CredentialStatusConnected)
		}
		b, err := s.GetTokenBundle(ctx, "cred1")
		if err != nil {
			t.Fatalf("GetTokenBundle() error = %v", err)
		}
		if b.AccessToken != "at" || b.RefreshToken != "rt" {
			t.Errorf("GetTokenBundle() = %+v, want access at / refresh rt", b)
		}
		if b.Expiry == nil || *b.Expiry != exp {
			t.Errorf("GetTokenBundle().Expiry = %v, want %d", b.Expiry, exp)
		}
	})
}

func TestPutTokenBundleUnknownCredential(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		err := s.PutTokenBundle(context.Background(), &models.TokenBundle{CredentialID: "nope", AccessToken: "x"})
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			t.Fatalf("PutTokenBundle() error = %v, want ErrNotFound", err)
		}
	})
}

func TestDeleteCredentialRemovesBundle(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedCredential(t, s, "cred1", models.ProviderGemini)
		if err := s.PutTokenBundle(ctx, &models.TokenBundle{CredentialID: "cred1", AccessToken: "key", TokenType: models.TokenTypeAPIKey}); err != nil {
			t.Fatalf("PutTokenBundle() error = %v", err)
		}

		if err := s.DeleteCredential(ctx, "cred1"); err != nil {
			t.Fatalf("DeleteCredential() error = %v", err)
		}

		if _, err := s.GetTokenBundle(ctx, "cred1"); err == nil {
			t.Error("GetTokenBundle() after delete: expected error")
		}
		if _, err := s.GetCredential(ctx, "cred1"); err == nil {
			t.Error("GetCredential() after delete: expected error")
		}
		if err := s.DeleteCredential(ctx, "cred1"); err == nil {
			t.Error("second DeleteCredential(): expected error")
		}
	})
}

func TestUpdateAccessTokenKeepsRefreshToken(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedCredential(t, s, "cred1", models.ProviderGoogleCalendar)
		s.PutTokenBundle(ctx, &models.TokenBundle{CredentialID: "cred1", AccessToken: "old", RefreshToken: "rt"})

		exp := int64(1_900_000_000)
		if err := s.UpdateAccessToken(ctx, "cred1", "new", &exp); err != nil {
			t.Fatalf("UpdateAccessToken() error = %v", err)
		}
		b, _ := s.GetTokenBundle(ctx, "cred1")
		if b.AccessToken != "new" {
			t.Errorf("AccessToken = %q, want %q", b.AccessToken, "new")
		}
		if b.RefreshToken != "rt" {
			t.Errorf("RefreshToken = %q, want %q", b.RefreshToken, "rt")
		}
	})
}

// ─── Conversations ───────────────────────────────────────────

func TestGetConversationNotFound(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		_, err := s.GetConversation(context.Background(), "missing")
		var nf *store.ErrNotFound
		if !errors.As(err, &nf) {
			t.Fatalf("GetConversation() error = %v, want ErrNotFound", err)
		}
		if nf.Entity != "conversation" {
			t.Errorf("ErrNotFound.Entity = %q, want %q", nf.Entity, "conversation")
		}
	})
}

func TestAttachProviderReplaces(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedConversation(t, s, "room1")

		for _, cred := range []string{"first", "second"} {
			err := s.AttachProvider(ctx, &models.ProviderAttachment{
				ConversationID: "room1", Provider: models.ProviderGoogleCalendar, CredentialID: cred, CreatedAt: time.Now(),
			})
			if err != nil {
				t.Fatalf("AttachProvider(%q) error = %v", cred, err)
			}
		}

		atts, err := s.ListAttachments(ctx, "room1")
		if err != nil {
			t.Fatalf("ListAttachments() error = %v", err)
		}
		if len(atts) != 1 {
			t.Fatalf("ListAttachments() len = %d, want 1", len(atts))
		}
		if atts[0].CredentialID != "second" {
			t.Errorf("CredentialID = %q, want %q", atts[0].CredentialID, "second")
		}
		if got := store.CredentialMap(atts)[models.ProviderGoogleCalendar]; got != "second" {
			t.Errorf("CredentialMap()[google_calendar] = %q, want %q", got, "second")
		}
	})
}

// ─── Messages ────────────────────────────────────────────────

func TestListMessagesOrdering(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedConversation(t, s, "room1")

		ts := time.Now().UTC().Truncate(time.Second)
		msgs := []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "hello", CreatedAt: ts},
			{ID: "m2", Role: models.RoleAssistant, Content: "hi", CreatedAt: ts},
			{ID: "m3", Role: models.RoleUser, Content: "later", CreatedAt: ts.Add(time.Second)},
		}
		for i := range msgs {
			msgs[i].ConversationID = "room1"
			if err := s.AppendMessage(ctx, &msgs[i]); err != nil {
				t.Fatalf("AppendMessage(%s) error = %v", msgs[i].ID, err)
			}
		}

		got, err := s.ListMessages(ctx, "room1")
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListMessages() len = %d, want 3", len(got))
		}
		for i, want := range []string{"m1", "m2", "m3"} {
			if got[i].ID != want {
				t.Errorf("ListMessages()[%d].ID = %q, want %q", i, got[i].ID, want)
			}
		}
	})
}

func TestAppendMessageConcurrent(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		seedConversation(t, s, "room1")

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, 2*n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				now := time.Now().UTC()
				for _, m := range []models.Message{
					{ID: fmt.Sprintf("u%d", i), Role: models.RoleUser, Content: fmt.Sprintf("q%d", i), CreatedAt: now},
					{ID: fmt.Sprintf("a%d", i), Role: models.RoleAssistant, Content: fmt.Sprintf("r%d", i), CreatedAt: now},
				} {
					m.ConversationID = "room1"
					if err := s.AppendMessage(ctx, &m); err != nil {
						errs <- err
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("AppendMessage() error = %v", err)
		}

		got, err := s.ListMessages(ctx, "room1")
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(got) != 2*n {
			t.Fatalf("ListMessages() len = %d, want %d", len(got), 2*n)
		}
		seen := make(map[string]bool, len(got))
		for _, m := range got {
			if seen[m.ID] {
				t.Errorf("ListMessages() duplicate ID %q", m.ID)
			}
			seen[m.ID] = true
		}
		for i := 0; i < n; i++ {
			if !seen[fmt.Sprintf("u%d", i)] || !seen[fmt.Sprintf("a%d", i)] {
				t.Errorf("exchange %d incomplete: user=%v assistant=%v", i, seen[fmt.Sprintf("u%d", i)], seen[fmt.Sprintf("a%d", i)])
			}
		}
	})
}

func TestAppendMessageUnknownConversation(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		err := s.AppendMessage(context.Background(), &models.Message{ID: "m", ConversationID: "ghost", Role: models.RoleUser})
		if err == nil {
			t.Fatal("AppendMessage() on unknown conversation: expected error")
		}
	})
}

// ─── Persistence ─────────────────────────────────────────────

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	s1 := store.NewMemoryStore(fs, "/data")
	seedCredential(t, s1, "cred1", models.ProviderGemini)
	seedConversation(t, s1, "room1")
	if err := s1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if ok, _ := afero.Exists(fs, "/data/data.json"); !ok {
		t.Fatal("snapshot file not written")
	}

	s2 := store.NewMemoryStore(fs, "/data")
	t.Cleanup(func() { s2.Close() })
	if _, err := s2.GetCredential(ctx, "cred1"); err != nil {
		t.Errorf("GetCredential() after reload error = %v", err)
	}
	if _, err := s2.GetConversation(ctx, "room1"); err != nil {
		t.Errorf("GetConversation() after reload error = %v", err)
	}
}
