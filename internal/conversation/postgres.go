package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/into-the-night/fin-breaker/internal/agent/core"
)

// PostgresStore upserts state into conversation_states (see migrations/).
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

const (
	selectConversationSQL = `SELECT state FROM conversation_states WHERE conversation_id = $1`
	upsertConversationSQL = `INSERT INTO conversation_states (conversation_id, question, phase, replan_count, state, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (conversation_id) DO UPDATE SET question = EXCLUDED.question, phase = EXCLUDED.phase,
replan_count = EXCLUDED.replan_count, state = EXCLUDED.state, updated_at = NOW()`
)

func (s *PostgresStore) Load(ctx context.Context, id string) (*core.ConversationState, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, selectConversationSQL, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var st core.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return &st, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *core.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", state.ConversationID, err)
	}
	_, err = s.DB.ExecContext(ctx, upsertConversationSQL, state.ConversationID, state.Question, string(state.Phase), state.ReplanCount, raw)
	return err
}

func (s *PostgresStore) Close() error { return s.DB.Close() }
