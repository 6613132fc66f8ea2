// Package session persists conversation state between turns, keyed by the
// continuation token handed back to the caller.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/antoine1anthony/sprout-ci/internal/llm"
)

// ErrNotFound is returned for unknown or expired continuation tokens.
var ErrNotFound = errors.New("session not found")

// State is everything needed to resume a conversation.
type State struct {
	Token string `json:"token"`
	// Messages is the full history, tool calls and results included.
	Messages []llm.Message `json:"messages"`
	// ResponseID is the backend's id for its last response, if it issued one.
	ResponseID string    `json:"responseId,omitempty"`
	Turns      int       `json:"turns"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store saves and loads states. A token is written once; later turns are
// saved under new tokens.
type Store interface {
	Load(ctx context.Context, token string) (*State, error)
	Save(ctx context.Context, state *State) error
}

const DefaultTTL = time.Hour
