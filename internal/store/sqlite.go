package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/ashureev/fieldagent/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes conversation writes to avoid SQLITE_BUSY
	retry   shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		purpose TEXT NOT NULL,
		segment TEXT NOT NULL DEFAULT '',
		knowledge TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		agent_link TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		agent_id INTEGER NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		participant_name TEXT,
		participant_age TEXT,
		participant_gender TEXT,
		participant_location TEXT,
		participant_topic TEXT,
		transcript_json TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_open ON conversations(created_at) WHERE completed_at IS NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const agentColumns = `id, owner_id, name, purpose, segment, knowledge, system_prompt, agent_link, is_active, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*domain.Agent, error) {
	var a domain.Agent
	var createdAt int64
	if err := row.Scan(
		&a.ID, &a.OwnerID, &a.Name, &a.Purpose, &a.Segment,
		&a.Knowledge, &a.SystemPrompt, &a.Link, &a.Active, &createdAt,
	); err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}

// CreateAgent inserts agent and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *domain.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	query := `
	INSERT INTO agents (owner_id, name, purpose, segment, knowledge, system_prompt, agent_link, is_active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		agent.OwnerID, agent.Name, agent.Purpose, agent.Segment,
		agent.Knowledge, agent.SystemPrompt, agent.Link, agent.Active,
		agent.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("agent last insert id: %w", err)
	}
	agent.ID = id
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id int64) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return agent, nil
}

// GetAgentByLink retrieves an agent by its public link.
func (s *SQLiteStore) GetAgentByLink(ctx context.Context, link string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_link = ?`, link)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent row: %w", err)
	}
	return agent, nil
}

// ListAgentsByOwner returns the owner's agents, newest first.
func (s *SQLiteStore) ListAgentsByOwner(ctx context.Context, ownerID string) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE owner_id = ? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	agents := []*domain.Agent{}
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

const conversationColumns = `id, session_id, agent_id,
	participant_name, participant_age, participant_gender, participant_location, participant_topic,
	transcript_json, summary, created_at, updated_at, completed_at`

func scanConversation(row scanner) (*domain.Conversation, error) {
	var c domain.Conversation
	var name, age, gender, location, topic sql.NullString
	var transcriptJSON string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	if err := row.Scan(
		&c.ID, &c.SessionID, &c.AgentID,
		&name, &age, &gender, &location, &topic,
		&transcriptJSON, &c.Summary, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	c.Fields = domain.CollectedFields{
		Name:     nullable(name),
		Age:      nullable(age),
		Gender:   nullable(gender),
		Location: nullable(location),
		Topic:    nullable(topic),
	}
	if err := sonic.UnmarshalString(transcriptJSON, &c.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		c.CompletedAt = &ts
	}
	return &c, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func encodeTranscript(transcript []domain.Message) (string, error) {
	if transcript == nil {
		transcript = []domain.Message{}
	}
	out, err := sonic.MarshalString(transcript)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	return out, nil
}

// CreateConversation inserts conv and sets its ID and timestamps.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	transcriptJSON, err := encodeTranscript(conv.Transcript)
	if err != nil {
		return err
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	query := `
	INSERT INTO conversations (
		session_id, agent_id,
		participant_name, participant_age, participant_gender, participant_location, participant_topic,
		transcript_json, summary, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, query,
		conv.SessionID, conv.AgentID,
		nullArg(conv.Fields.Name), nullArg(conv.Fields.Age), nullArg(conv.Fields.Gender),
		nullArg(conv.Fields.Location), nullArg(conv.Fields.Topic),
		transcriptJSON, conv.Summary, conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("conversation last insert id: %w", err)
	}
	conv.ID = id
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// GetConversationBySession retrieves a conversation by its session ID.
func (s *SQLiteStore) GetConversationBySession(ctx context.Context, sessionID string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE session_id = ?`, sessionID)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	return conv, nil
}

// ListConversationsByAgent returns an agent's conversations, newest first.
func (s *SQLiteStore) ListConversationsByAgent(ctx context.Context, agentID int64) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE agent_id = ? ORDER BY created_at DESC, id DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close conversation rows", "error", closeErr)
		}
	}()

	convs := []*domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// SaveTranscript replaces the stored transcript.
func (s *SQLiteStore) SaveTranscript(ctx context.Context, conversationID int64, transcript []domain.Message) error {
	transcriptJSON, err := encodeTranscript(transcript)
	if err != nil {
		return err
	}
	return s.update(ctx, "save transcript", conversationID,
		`UPDATE conversations SET transcript_json = ?, updated_at = ? WHERE id = ?`,
		transcriptJSON, time.Now().Unix(), conversationID)
}

// SaveCollectedFields replaces the stored participant fields.
func (s *SQLiteStore) SaveCollectedFields(ctx context.Context, conversationID int64, fields domain.CollectedFields) error {
	return s.update(ctx, "save collected fields", conversationID, `
		UPDATE conversations SET
			participant_name = ?, participant_age = ?, participant_gender = ?,
			participant_location = ?, participant_topic = ?, updated_at = ?
		WHERE id = ?`,
		nullArg(fields.Name), nullArg(fields.Age), nullArg(fields.Gender),
		nullArg(fields.Location), nullArg(fields.Topic), time.Now().Unix(), conversationID)
}

// SaveCompletion records the completion time and summary.
func (s *SQLiteStore) SaveCompletion(ctx context.Context, conversationID int64, completedAt time.Time, summary string) error {
	return s.update(ctx, "save completion", conversationID,
		`UPDATE conversations SET completed_at = ?, summary = ?, updated_at = ? WHERE id = ?`,
		completedAt.Unix(), summary, time.Now().Unix(), conversationID)
}

// update runs a single-row UPDATE with conflict retries and reports
// ErrNotFound when no row matched.
func (s *SQLiteStore) update(ctx context.Context, op string, conversationID int64, query string, args ...any) error {
	return shared.RetryOnConflict(ctx, s.retry, op, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("Conversation update affected 0 rows", "op", op, "conversation_id", conversationID)
			return fmt.Errorf("%s: conversation %d: %w", op, conversationID, ErrNotFound)
		}
		return nil
	})
}

// DeleteAbandonedConversations removes uncompleted conversations older than
// ttl whose transcript holds at most the welcome message.
func (s *SQLiteStore) DeleteAbandonedConversations(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
	DELETE FROM conversations
	WHERE completed_at IS NULL
	  AND created_at < ?
	  AND json_array_length(transcript_json) <= 1`

	var deleted int64
	err := shared.RetryOnConflict(ctx, s.retry, "delete abandoned conversations", func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, query, threshold)
		if err != nil {
			return fmt.Errorf("delete abandoned conversations: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
