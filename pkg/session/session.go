// Package session keeps a bounded, expiring history of turns per
// conversation, plus a per-user pointer to the current conversation.
//
// Layout in the key-value store:
//
//	session:<userID>:current     current session id for the user
//	session:<sessionID>:metadata JSON Metadata
//	session:<sessionID>:messages list of JSON turns, oldest first
//
// Every key shares one idle TTL, refreshed on each append. A pointer is
// dangling when the metadata is gone, or when the session has recorded turns
// but its message list is gone; CurrentSession clears it and reports no
// session.
package session

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
	"github.com/calque-ai/go-counsel/pkg/kv"
)

const keyPrefix = "session:"

// Defaults for Config.
const (
	DefaultTTL      = 24 * time.Hour
	DefaultMaxTurns = 50
)

// Metadata describes a session.
type Metadata struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	// Turns counts the turns ever appended, including trimmed ones.
	Turns int `json:"turns"`
}

// Config holds Store settings.
type Config struct {
	// TTL is the idle expiry of every session key.
	TTL time.Duration
	// MaxTurns bounds the history; the oldest turns are dropped first.
	MaxTurns int
	// Now stamps metadata.
	Now func() time.Time
	// NewID generates session ids.
	NewID func() string
}

// Option configures a Store.
type Option func(*Config)

// WithTTL sets the idle expiry.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) { c.TTL = ttl }
}

// WithMaxTurns sets the history bound.
func WithMaxTurns(n int) Option {
	return func(c *Config) { c.MaxTurns = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithIDGenerator replaces the UUID session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(c *Config) { c.NewID = gen }
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		TTL:      DefaultTTL,
		MaxTurns: DefaultMaxTurns,
		Now:      time.Now,
		NewID:    func() string { return "session_" + uuid.NewString() },
	}
}

// Store manages sessions in a kv.Store.
//
// Appends to one session are not serialized across processes; the list
// append itself is atomic, so concurrent writers interleave whole appends.
type Store struct {
	kv     kv.Store
	config *Config
}

// NewStore creates a Store.
func NewStore(store kv.Store, opts ...Option) *Store {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &Store{kv: store, config: config}
}

func currentKey(userID string) string     { return keyPrefix + userID + ":current" }
func messagesKey(sessionID string) string { return keyPrefix + sessionID + ":messages" }
func metadataKey(sessionID string) string { return keyPrefix + sessionID + ":metadata" }

// CreateSession starts a session and makes it the user's current one.
//
// Concurrent calls for the same user each create a session; the last
// pointer write wins.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", counsel.KindErr(ctx, counsel.KindInvalidInput, nil, "user id is required")
	}

	now := s.config.Now().UTC()
	meta := Metadata{
		SessionID:    s.config.NewID(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.writeMetadata(ctx, &meta); err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, currentKey(userID), []byte(meta.SessionID), s.config.TTL); err != nil {
		return "", counsel.WrapErr(ctx, err, "failed to set current session").Tag(slog.String("user_id", userID))
	}

	counsel.LogDebug(ctx, "created session", "session_id", meta.SessionID, "user_id", userID)
	return meta.SessionID, nil
}

// Append adds one turn to the session.
func (s *Store) Append(ctx context.Context, sessionID string, turn counsel.Turn) error {
	return s.appendTurns(ctx, sessionID, turn)
}

// AppendExchange adds a question and its answer in one write, so trimming
// never separates them.
func (s *Store) AppendExchange(ctx context.Context, sessionID string, user, assistant counsel.Turn) error {
	return s.appendTurns(ctx, sessionID, user, assistant)
}

func (s *Store) appendTurns(ctx context.Context, sessionID string, turns ...counsel.Turn) error {
	meta, err := s.Metadata(ctx, sessionID)
	if err != nil {
		return err
	}

	values := make([][]byte, len(turns))
	for i, turn := range turns {
		if turn.Role != counsel.RoleUser && turn.Role != counsel.RoleAssistant {
			return counsel.KindErr(ctx, counsel.KindInvalidInput, nil, fmt.Sprintf("unknown turn role %q", turn.Role))
		}
		if values[i], err = json.Marshal(turn); err != nil {
			return counsel.KindErr(ctx, counsel.KindInvalidInput, err, "failed to encode turn")
		}
	}

	if err := s.kv.AppendList(ctx, messagesKey(sessionID), s.config.MaxTurns, s.config.TTL, values...); err != nil {
		return counsel.WrapErr(ctx, err, "failed to append turns").Tag(slog.String("session_id", sessionID))
	}

	meta.LastActivity = s.config.Now().UTC()
	meta.Turns += len(turns)
	if err := s.writeMetadata(ctx, meta); err != nil {
		return err
	}
	if err := s.kv.Expire(ctx, currentKey(meta.UserID), s.config.TTL); err != nil && !errors.Is(err, kv.ErrNotFound) {
		counsel.LogWarn(ctx, "failed to refresh session pointer", "user_id", meta.UserID, "error", err)
	}
	return nil
}

// History returns the session's turns, oldest first. Unknown sessions have
// an empty history; unreadable turns are skipped.
func (s *Store) History(ctx context.Context, sessionID string) ([]counsel.Turn, error) {
	items, err := s.kv.List(ctx, messagesKey(sessionID))
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "failed to read session history").Tag(slog.String("session_id", sessionID))
	}

	turns := make([]counsel.Turn, 0, len(items))
	for _, item := range items {
		var turn counsel.Turn
		if err := json.Unmarshal(item, &turn); err != nil {
			counsel.LogWarn(ctx, "skipping unreadable turn", "session_id", sessionID, "error", err)
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear deletes the session's turns and metadata. A pointer still naming
// it becomes dangling and is dropped by CurrentSession.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, messagesKey(sessionID), metadataKey(sessionID)); err != nil {
		return counsel.WrapErr(ctx, err, "failed to clear session").Tag(slog.String("session_id", sessionID))
	}
	return nil
}

// CurrentSession returns the user's live session id, if any.
func (s *Store) CurrentSession(ctx context.Context, userID string) (string, bool, error) {
	data, err := s.kv.Get(ctx, currentKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, counsel.WrapErr(ctx, err, "failed to read current session").Tag(slog.String("user_id", userID))
	}

	sessionID := string(data)
	live, err := s.live(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	if !live {
		counsel.LogDebug(ctx, "dropping dangling session pointer", "user_id", userID, "session_id", sessionID)
		if err := s.kv.Delete(ctx, currentKey(userID), metadataKey(sessionID)); err != nil {
			counsel.LogWarn(ctx, "failed to delete dangling session pointer", "user_id", userID, "error", err)
		}
		return "", false, nil
	}
	return sessionID, true, nil
}

// live reports whether the session's keys are intact: metadata present, and
// a message list present once any turn was appended.
func (s *Store) live(ctx context.Context, sessionID string) (bool, error) {
	meta, err := s.Metadata(ctx, sessionID)
	if errors.Is(err, counsel.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		if counsel.KindOf(err) == counsel.KindStoreUnavailable {
			return false, err
		}
		counsel.LogWarn(ctx, "treating unreadable session as expired", "session_id", sessionID, "error", err)
		return false, nil
	}
	if meta.Turns == 0 {
		return true, nil
	}
	exists, err := s.kv.Exists(ctx, messagesKey(sessionID))
	if err != nil {
		return false, counsel.WrapErr(ctx, err, "failed to check session").Tag(slog.String("session_id", sessionID))
	}
	return exists, nil
}

// Metadata returns the session's metadata, or counsel.ErrSessionNotFound.
func (s *Store) Metadata(ctx context.Context, sessionID string) (*Metadata, error) {
	data, err := s.kv.Get(ctx, metadataKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, helpers.WrapErrorf(counsel.ErrSessionNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "failed to read session metadata").Tag(slog.String("session_id", sessionID))
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, counsel.WrapErr(ctx, err, "failed to decode session metadata").Tag(slog.String("session_id", sessionID))
	}
	return &meta, nil
}

func (s *Store) writeMetadata(ctx context.Context, meta *Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return counsel.KindErr(ctx, counsel.KindInvalidInput, err, "failed to encode session metadata")
	}
	if err := s.kv.Set(ctx, metadataKey(meta.SessionID), data, s.config.TTL); err != nil {
		return counsel.WrapErr(ctx, err, "failed to write session metadata").Tag(slog.String("session_id", meta.SessionID))
	}
	return nil
}

// Count returns the number of live sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.metadataKeys(ctx)
	return len(keys), err
}

func (s *Store) metadataKeys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix+"*:metadata")
	if err != nil {
		return nil, counsel.WrapErr(ctx, err, "failed to list sessions")
	}
	return keys, nil
}

// Prune deletes the least recently created sessions until at most keep
// remain and returns how many were deleted. Sessions with unreadable
// metadata go first.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	keys, err := s.metadataKeys(ctx)
	if err != nil {
		return 0, err
	}
	keep = max(keep, 0)
	if len(keys) <= keep {
		return 0, nil
	}

	type candidate struct {
		id      string
		created time.Time
	}
	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ":metadata")
		c := candidate{id: id}
		if meta, err := s.Metadata(ctx, id); err == nil {
			c.created = meta.CreatedAt
		} else if counsel.KindOf(err) == counsel.KindStoreUnavailable {
			return 0, err
		}
		candidates = append(candidates, c)
	}
	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return cmp.Or(a.created.Compare(b.created), strings.Compare(a.id, b.id))
	})

	victims := candidates[:len(candidates)-keep]
	doomed := make([]string, 0, 2*len(victims))
	for _, v := range victims {
		doomed = append(doomed, messagesKey(v.id), metadataKey(v.id))
	}
	if err := s.kv.Delete(ctx, doomed...); err != nil {
		return 0, counsel.WrapErr(ctx, err, "failed to prune sessions")
	}
	return len(victims), nil
}
