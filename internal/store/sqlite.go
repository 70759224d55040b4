package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/credbroker/broker/internal/store/migrations"
	"github.com/credbroker/broker/pkg/models"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite single-writer: cap pool so writes serialize.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("SQLite store opened")
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Migrate runs all pending goose migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFoundOr(err error, entity, key string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return err
}

// ── Credential Store ────────────────────────────────────────

const credentialColumns = `id, provider, name, status, client_id, created_at, updated_at`

func (s *SQLiteStore) ListCredentials(ctx context.Context) ([]models.Credential, error) {
	var out []models.Credential
	err := sqlscan.Select(ctx, s.db, &out,
		`SELECT `+credentialColumns+` FROM credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetCredential(ctx context.Context, id string) (*models.Credential, error) {
	var c models.Credential
	err := sqlscan.Get(ctx, s.db, &c,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "credential", id)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateCredential(ctx context.Context, cred *models.Credential) error {
	status := cred.Status
	if status == "" {
		status = models.CredentialStatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.Provider, cred.Name, status, cred.ClientID,
		cred.CreatedAt.UTC(), cred.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE credential_id = ?`, id); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete credential: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &ErrNotFound{Entity: "credential", Key: id}
		}
		return nil
	})
}

// ── Token Store ─────────────────────────────────────────────

func (s *SQLiteStore) GetTokenBundle(ctx context.Context, credentialID string) (*models.TokenBundle, error) {
	var b models.TokenBundle
	err := sqlscan.Get(ctx, s.db, &b,
		`SELECT credential_id, access_token, refresh_token, expiry, scope, token_type, updated_at
		 FROM oauth_tokens WHERE credential_id = ?`, credentialID)
	if err != nil {
		return nil, notFoundOr(err, "token", credentialID)
	}
	return &b, nil
}

func (s *SQLiteStore) PutTokenBundle(ctx context.Context, bundle *models.TokenBundle) error {
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET status = ?, updated_at = ? WHERE id = ?`,
			models.CredentialStatusConnected, now, bundle.CredentialID)
		if err != nil {
			return fmt.Errorf("mark credential connected: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &ErrNotFound{Entity: "credential", Key: bundle.CredentialID}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO oauth_tokens (credential_id, access_token, refresh_token, expiry, scope, token_type, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(credential_id) DO UPDATE SET
			   access_token = excluded.access_token,
			   refresh_token = excluded.refresh_token,
			   expiry = excluded.expiry,
			   scope = excluded.scope,
			   token_type = excluded.token_type,
			   updated_at = excluded.updated_at`,
			bundle.CredentialID, bundle.AccessToken, bundle.RefreshToken, bundle.Expiry,
			bundle.Scope, bundle.TokenType, now)
		if err != nil {
			return fmt.Errorf("upsert token: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateAccessToken(ctx context.Context, credentialID, accessToken string, expiry *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE oauth_tokens SET access_token = ?, expiry = ?, updated_at = ? WHERE credential_id = ?`,
		accessToken, expiry, time.Now().UTC(), credentialID)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "token", Key: credentialID}
	}
	return nil
}

// ── Conversation Store ──────────────────────────────────────

const conversationColumns = `id, name, llm_provider, llm_credential_id, created_at`

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := sqlscan.Select(ctx, s.db, &out,
		`SELECT `+conversationColumns+` FROM chat_rooms ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := sqlscan.Get(ctx, s.db, &c,
		`SELECT `+conversationColumns+` FROM chat_rooms WHERE id = ?`, id)
	if err != nil {
		return nil, notFoundOr(err, "conversation", id)
	}
	return &c, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_rooms (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Name, conv.LLMProvider, conv.LLMCredentialID, conv.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AttachProvider(ctx context.Context, att *models.ProviderAttachment) error {
	if _, err := s.GetConversation(ctx, att.ConversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_room_providers (room_id, provider, credential_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(room_id, provider) DO UPDATE SET
		   credential_id = excluded.credential_id,
		   created_at = excluded.created_at`,
		att.ConversationID, att.Provider, att.CredentialID, att.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("attach provider: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, conversationID string) ([]models.ProviderAttachment, error) {
	var out []models.ProviderAttachment
	err := sqlscan.Select(ctx, s.db, &out,
		`SELECT room_id AS conversation_id, provider, credential_id, created_at
		 FROM chat_room_providers WHERE room_id = ? ORDER BY provider`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return out, nil
}

// ── Message Store ───────────────────────────────────────────

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if _, err := s.GetConversation(ctx, msg.ConversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, room_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	err := sqlscan.Select(ctx, s.db, &out,
		`SELECT id, room_id AS conversation_id, role, content, created_at
		 FROM chat_messages WHERE room_id = ? ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}
