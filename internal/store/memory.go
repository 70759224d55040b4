package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/credbroker/broker/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Credentials   map[string]*models.Credential         `json:"credentials"`
	Tokens        map[string]*models.TokenBundle        `json:"tokens"`
	Conversations map[string]*models.Conversation       `json:"conversations"`
	Attachments   map[string]*models.ProviderAttachment `json:"attachments"` // key: conversation:provider
	Messages      map[string][]*models.Message          `json:"messages"`    // key: conversation, insertion order
}

// MemoryStore implements Store with in-memory maps. Used for local dev and
// tests; a non-empty data dir adds a JSON snapshot so data survives restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	credentials   map[string]*models.Credential
	tokens        map[string]*models.TokenBundle
	conversations map[string]*models.Conversation
	attachments   map[string]*models.ProviderAttachment
	messages      map[string][]*models.Message

	// Persistence
	fs           afero.Fs
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{}
}

// NewMemoryStore creates a new in-memory store. When dataDir is non-empty the
// store loads and saves a JSON snapshot at dataDir/data.json on fs.
func NewMemoryStore(fs afero.Fs, dataDir string) *MemoryStore {
	m := &MemoryStore{
		credentials:   make(map[string]*models.Credential),
		tokens:        make(map[string]*models.TokenBundle),
		conversations: make(map[string]*models.Conversation),
		attachments:   make(map[string]*models.ProviderAttachment),
		messages:      make(map[string][]*models.Message),
		fs:            fs,
		saveCh:        make(chan struct{}, 1),
		doneCh:        make(chan struct{}),
	}

	if dataDir != "" && fs != nil {
		m.snapshotPath = filepath.Join(dataDir, "data.json")
		if err := fs.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Credentials:   m.credentials,
		Tokens:        m.tokens,
		Conversations: m.conversations,
		Attachments:   m.attachments,
		Messages:      m.messages,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename so a crash never leaves a torn snapshot.
	tmp := m.snapshotPath + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := m.fs.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := afero.ReadFile(m.fs, m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.Credentials != nil {
		m.credentials = snap.Credentials
	}
	if snap.Tokens != nil {
		m.tokens = snap.Tokens
	}
	if snap.Conversations != nil {
		m.conversations = snap.Conversations
	}
	if snap.Attachments != nil {
		m.attachments = snap.Attachments
	}
	if snap.Messages != nil {
		m.messages = snap.Messages
	}

	log.Info().
		Int("credentials", len(m.credentials)).
		Int("conversations", len(m.conversations)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

func key(parts ...string) string {
	k := ""
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// ── Credential Store ────────────────────────────────────────

func (m *MemoryStore) ListCredentials(_ context.Context) ([]models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetCredential(_ context.Context, id string) (*models.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "credential", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateCredential(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	cp := *cred
	if cp.Status == "" {
		cp.Status = models.CredentialStatusDraft
	}
	m.credentials[cred.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteCredential(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.credentials[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "credential", Key: id}
	}
	delete(m.credentials, id)
	delete(m.tokens, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Token Store ─────────────────────────────────────────────

func (m *MemoryStore) GetTokenBundle(_ context.Context, credentialID string) (*models.TokenBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.tokens[credentialID]
	if !ok {
		return nil, &ErrNotFound{Entity: "token", Key: credentialID}
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) PutTokenBundle(_ context.Context, bundle *models.TokenBundle) error {
	m.mu.Lock()
	cred, ok := m.credentials[bundle.CredentialID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "credential", Key: bundle.CredentialID}
	}
	now := time.Now().UTC()
	cp := *bundle
	cp.UpdatedAt = now
	m.tokens[bundle.CredentialID] = &cp
	cred.Status = models.CredentialStatusConnected
	cred.UpdatedAt = now
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAccessToken(_ context.Context, credentialID, accessToken string, expiry *int64) error {
	m.mu.Lock()
	b, ok := m.tokens[credentialID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "token", Key: credentialID}
	}
	b.AccessToken = accessToken
	b.Expiry = expiry
	b.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Conversation Store ──────────────────────────────────────

func (m *MemoryStore) ListConversations(_ context.Context) ([]models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: id}
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv *models.Conversation) error {
	m.mu.Lock()
	cp := *conv
	m.conversations[conv.ID] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) AttachProvider(_ context.Context, att *models.ProviderAttachment) error {
	m.mu.Lock()
	if _, ok := m.conversations[att.ConversationID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: att.ConversationID}
	}
	cp := *att
	m.attachments[key(att.ConversationID, att.Provider)] = &cp
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListAttachments(_ context.Context, conversationID string) ([]models.ProviderAttachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.ProviderAttachment
	for _, a := range m.attachments {
		if a.ConversationID == conversationID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "conversation", Key: msg.ConversationID}
	}
	cp := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &cp)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.messages[conversationID]
	result := make([]models.Message, 0, len(stored))
	for _, msg := range stored {
		result = append(result, *msg)
	}
	// Stable keeps insertion order for equal timestamps.
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
