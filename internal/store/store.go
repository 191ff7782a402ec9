// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting agents and conversations.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// CreateAgent inserts agent and sets its ID and CreatedAt.
	CreateAgent(ctx context.Context, agent *domain.Agent) error

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, id int64) (*domain.Agent, error)

	// GetAgentByLink retrieves an agent by its public link.
	GetAgentByLink(ctx context.Context, link string) (*domain.Agent, error)

	// ListAgentsByOwner returns the owner's agents, newest first.
	ListAgentsByOwner(ctx context.Context, ownerID string) ([]*domain.Agent, error)

	// CreateConversation inserts conv and sets its ID and timestamps.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id int64) (*domain.Conversation, error)

	// GetConversationBySession retrieves a conversation by its session ID.
	GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error)

	// ListConversationsByAgent returns an agent's conversations, newest first.
	ListConversationsByAgent(ctx context.Context, agentID int64) ([]*domain.Conversation, error)

	// SaveTranscript replaces the stored transcript.
	SaveTranscript(ctx context.Context, conversationID int64, transcript []domain.Message) error

	// SaveCollectedFields replaces the stored participant fields.
	SaveCollectedFields(ctx context.Context, conversationID int64, fields domain.CollectedFields) error

	// SaveCompletion records the completion time and summary.
	SaveCompletion(ctx context.Context, conversationID int64, completedAt time.Time, summary string) error

	// DeleteAbandonedConversations removes uncompleted conversations older
	// than ttl whose transcript holds at most the welcome message.
	DeleteAbandonedConversations(ctx context.Context, ttl time.Duration) (int64, error)
}
