package memory

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agrosense/agrosense/types"
)

// TokenCounter measures turns for window budgeting. The encoding is
// initialized lazily; when it cannot load (offline environments) the
// counter degrades to a bytes/4 estimate rather than failing the
// query path.
type TokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// NewTokenCounter creates a counter for the given tiktoken encoding.
// An empty encoding selects cl100k_base.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TokenCounter{encoding: encoding}
}

func (c *TokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

// Count returns the token count of one text.
func (c *TokenCounter) Count(text string) int {
	if err := c.init(); err != nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountTurn measures both halves of an exchange plus a small per-turn
// framing overhead.
func (c *TokenCounter) CountTurn(turn types.Turn) int {
	return c.Count(turn.User.Content) + c.Count(turn.Assistant.Content) + 8
}

// TrimToBudget drops the oldest turns until the window fits the
// budget. The most recent turn is always kept even when it alone
// exceeds the budget.
func (c *TokenCounter) TrimToBudget(turns []types.Turn, budget int) []types.Turn {
	if len(turns) == 0 || budget <= 0 {
		return turns
	}
	total := 0
	keepFrom := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := c.CountTurn(turns[i])
		if total+cost > budget && keepFrom < len(turns) {
			break
		}
		total += cost
		keepFrom = i
	}
	return turns[keepFrom:]
}
