// Package memory persists conversation history. The recent window
// lives in Redis and feeds classification and agent prompts; every
// completed turn is also archived to SQLite for later inspection. The
// window handed out is bounded both by turn count and by token budget.
package memory

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/types"
)

// Manager is the conversation memory surface the workflow engine uses.
type Manager interface {
	// Load returns the recent window for a conversation. An unknown
	// conversation yields an empty context, not an error.
	Load(ctx context.Context, conversationID string) (types.ConversationContext, error)
	// Append records one completed exchange. Appends to the same
	// conversation are serialized.
	Append(ctx context.Context, conversationID string, turn types.Turn) error
}

// Config tunes the window.
type Config struct {
	// WindowTurns caps how many recent turns the window may hold.
	WindowTurns int `json:"window_turns" yaml:"window_turns"`
	// TokenBudget caps the window's total token count; oldest turns
	// are dropped first. Zero disables the budget.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// TTL expires idle conversations from Redis.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns the default window tuning.
func DefaultConfig() Config {
	return Config{
		WindowTurns: 20,
		TokenBudget: 3000,
		TTL:         24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowTurns <= 0 {
		c.WindowTurns = d.WindowTurns
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	return c
}

const lockStripes = 64

// manager combines the Redis window with the SQLite archive.
type manager struct {
	window  *RedisWindow
	archive *Archive
	counter *TokenCounter
	config  Config
	logger  *zap.Logger
	locks   [lockStripes]sync.Mutex
}

// NewManager wires the memory layer. The archive may be nil when only
// the window is wanted.
func NewManager(window *RedisWindow, archive *Archive, counter *TokenCounter, config Config, logger *zap.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &manager{
		window:  window,
		archive: archive,
		counter: counter,
		config:  config.withDefaults(),
		logger:  logger.With(zap.String("component", "memory")),
	}
}

func (m *manager) lock(conversationID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(conversationID))
	return &m.locks[h.Sum32()%lockStripes]
}

func (m *manager) Load(ctx context.Context, conversationID string) (types.ConversationContext, error) {
	if conversationID == "" {
		return types.ConversationContext{}, nil
	}
	convCtx, err := m.window.Load(ctx, conversationID)
	if err != nil {
		return types.ConversationContext{}, err
	}
	if m.config.TokenBudget > 0 && m.counter != nil {
		convCtx.Turns = m.counter.TrimToBudget(convCtx.Turns, m.config.TokenBudget)
	}
	return convCtx, nil
}

func (m *manager) Append(ctx context.Context, conversationID string, turn types.Turn) error {
	if conversationID == "" {
		return nil
	}
	mu := m.lock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	if err := m.window.Append(ctx, conversationID, turn, m.config.WindowTurns, m.config.TTL); err != nil {
		return err
	}
	// archive lag must not fail the query path
	if m.archive != nil {
		if err := m.archive.Save(ctx, conversationID, turn); err != nil {
			m.logger.Warn("archive write failed",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return nil
}
