package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"spectraq/internal/models"
)

// SessionStore is the key-value surface the session service needs. It is
// satisfied by RedisService; a nil store means "no persistence" and every
// operation degrades to a no-op.
type SessionStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) (int64, error)
	LPush(ctx context.Context, key string, values ...interface{}) error
	LTrim(ctx context.Context, key string, start, stop int64) error
}

const queryLogKey = "query_logs"

// SessionService owns conversational sessions: creation, lookup, history
// appends, and deletion. Sessions live in Redis under session:{id} with a
// fixed TTL refreshed on every write (never on read).
type SessionService struct {
	store        SessionStore
	ttl          time.Duration
	historyLimit int
	defaultModel string
}

// NewSessionService creates a session service. store may be nil, in which
// case session operations are no-ops and the pipeline runs with empty
// context.
func NewSessionService(store SessionStore, ttl time.Duration, historyLimit int, defaultModel string) *SessionService {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &SessionService{
		store:        store,
		ttl:          ttl,
		historyLimit: historyLimit,
		defaultModel: defaultModel,
	}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// CreateSession creates a new session and persists it when a store is
// available. Without a store the returned session is still valid, it just
// won't be found on later reads.
func (s *SessionService) CreateSession(ctx context.Context, userID string, cfg *models.SessionConfig) (*models.Session, error) {
	sessionID := "session_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	if cfg == nil {
		cfg = &models.SessionConfig{
			Model:           s.defaultModel,
			Temperature:     0.7,
			MaxTokens:       4096,
			ContextWindow:   10,
			ToolsEnabled:    []string{"all"},
			Personalization: true,
			RiskTolerance:   "medium",
		}
	}

	now := time.Now().UTC()
	session := &models.Session{
		SessionID: sessionID,
		UserID:    userID,
		Config:    *cfg,
		Status:    "active",
		History:   []models.Exchange{},
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if s.store == nil {
		return session, nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.store.Set(ctx, sessionKey(sessionID), data, s.ttl); err != nil {
		// Store trouble must not fail session creation; the caller just
		// loses continuity across turns.
		log.Printf("⚠️  [SESSION] Failed to persist session %s: %v", sessionID, err)
	}

	return session, nil
}

// GetSession returns the session or (nil, nil) when it does not exist or
// the store is unavailable. Reads never refresh the TTL.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if s.store == nil {
		return nil, nil
	}

	data, err := s.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		log.Printf("⚠️  [SESSION] Failed to get session %s: %v", sessionID, err)
		return nil, nil
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		log.Printf("⚠️  [SESSION] Corrupt session %s: %v", sessionID, err)
		return nil, nil
	}
	if session.History == nil {
		session.History = []models.Exchange{}
	}
	return &session, nil
}

// AppendExchange merges a new query/response pair into the session history,
// truncates to the retained limit, and rewrites the entry with a fresh TTL.
// Missing sessions and store failures are silent no-ops.
func (s *SessionService) AppendExchange(ctx context.Context, sessionID, query, response string, toolResults map[string]interface{}) {
	if s.store == nil || sessionID == "" {
		return
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return
	}

	now := time.Now().UTC()
	session.History = append(session.History, models.Exchange{
		Query:     query,
		Response:  response,
		Timestamp: now,
		ToolsData: toolResults,
	})
	if len(session.History) > s.historyLimit {
		session.History = session.History[len(session.History)-s.historyLimit:]
	}
	session.MessageCount++
	session.LastActivity = now
	session.ExpiresAt = now.Add(s.ttl)

	data, err := json.Marshal(session)
	if err != nil {
		log.Printf("⚠️  [SESSION] Failed to marshal session %s: %v", sessionID, err)
		return
	}
	if err := s.store.Set(ctx, sessionKey(sessionID), data, s.ttl); err != nil {
		log.Printf("⚠️  [SESSION] Failed to update session %s: %v", sessionID, err)
	}
}

// DeleteSession removes a session. Returns false when the session did not
// exist or the store is unavailable.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) bool {
	if s.store == nil {
		return false
	}
	deleted, err := s.store.Delete(ctx, sessionKey(sessionID))
	if err != nil {
		log.Printf("⚠️  [SESSION] Failed to delete session %s: %v", sessionID, err)
		return false
	}
	return deleted > 0
}

// RecentHistory returns the most recent n exchanges for prompt building.
func (s *SessionService) RecentHistory(ctx context.Context, sessionID string, n int) []models.Exchange {
	if sessionID == "" {
		return nil
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil
	}
	history := session.History
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return history
}

// LogQuery records a query for analytics in a capped Redis list. Best
// effort only.
func (s *SessionService) LogQuery(ctx context.Context, query, response, sessionID, userID string) {
	if s.store == nil {
		return
	}

	entry, err := json.Marshal(map[string]interface{}{
		"query":           query,
		"response_length": len(response),
		"session_id":      sessionID,
		"user_id":         userID,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	if err := s.store.LPush(ctx, queryLogKey, entry); err != nil {
		log.Printf("⚠️  [SESSION] Failed to log query: %v", err)
		return
	}
	s.store.LTrim(ctx, queryLogKey, 0, 10000)
}
