package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"bridgebot/internal/logging"
	"bridgebot/internal/types"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps session history in a private in-memory SQLite database.
// Each store gets its own named database, so two stores never share rows.
type SQLiteStore struct {
	db         *sql.DB
	mu         sync.Mutex
	maxHistory int
}

// NewSQLiteStore opens a fresh in-memory database and creates the history table.
func NewSQLiteStore(maxHistory int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:bridgebot-%s?mode=memory&cache=shared", uuid.NewString())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The in-memory database lives as long as one connection stays open.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, maxHistory: maxHistory}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.MemoryDebug("sqlite session store ready (max_history=%d)", maxHistory)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_key ON session_history(conversation_id, participant_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session_history: %w", err)
	}
	return nil
}

// Load returns the participant's history, oldest first.
func (s *SQLiteStore) Load(ctx context.Context, conversationID, participantID string) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM session_history
		 WHERE conversation_id = ? AND participant_id = ?
		 ORDER BY id ASC`,
		conversationID, participantID,
	)
	if err != nil {
		logging.MemoryWarn("load %s/%s failed: %v", conversationID, participantID, err)
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	history := []types.Message{}
	for rows.Next() {
		var m types.Message
		var role string
		if err := rows.Scan(&role, &m.Content); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		m.Role = types.Role(role)
		history = append(history, m)
	}
	return history, rows.Err()
}

// Append inserts both messages of a turn and trims the key in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, conversationID, participantID, prompt, reply string) error {
	timer := logging.StartTimer(logging.CategoryMemory, "sqlite append")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	for _, m := range types.Exchange(prompt, reply) {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_history (conversation_id, participant_id, role, content) VALUES (?, ?, ?, ?)",
			conversationID, participantID, string(m.Role), m.Content,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if s.maxHistory > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_history
			 WHERE conversation_id = ? AND participant_id = ? AND id NOT IN (
				SELECT id FROM session_history
				WHERE conversation_id = ? AND participant_id = ?
				ORDER BY id DESC LIMIT ?
			 )`,
			conversationID, participantID, conversationID, participantID, s.maxHistory,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	logging.MemoryDebug("appended turn: conversation=%s participant=%s", conversationID, participantID)
	return nil
}

// Clear deletes every row under conversationID.
func (s *SQLiteStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM session_history WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Memory("cleared conversation %s (%d messages)", conversationID, n)
	return nil
}

// Close releases the database; its contents are gone afterwards.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
