package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"backtest-service/services/engine"
)

type strategyRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Kind        string    `db:"kind"`
	Params      []byte    `db:"params"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r strategyRow) descriptor() (*engine.StrategyDescriptor, error) {
	s := &engine.StrategyDescriptor{
		ID:          r.ID,
		UserID:      r.UserID,
		Name:        r.Name,
		Description: r.Description,
		Kind:        engine.StrategyKind(r.Kind),
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Params) > 0 {
		if err := json.Unmarshal(r.Params, &s.Params); err != nil {
			return nil, fmt.Errorf("decode params of strategy %s: %w", r.ID, err)
		}
	}
	return s, nil
}

// StrategyRepo reads and writes trading_strategies.
type StrategyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewStrategyRepo(db *sqlx.DB, timeout time.Duration) *StrategyRepo {
	return &StrategyRepo{db: db, timeout: timeoutOr(timeout)}
}

// LoadStrategy returns engine.ErrNotFound when the strategy does not exist or
// belongs to another user.
func (r *StrategyRepo) LoadStrategy(ctx context.Context, userID, strategyID string) (*engine.StrategyDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, user_id, name, description, kind, params, created_at
		FROM trading_strategies
		WHERE id = $1 AND user_id = $2`

	var row strategyRow
	if err := r.db.GetContext(ctx, &row, query, strategyID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.ErrNotFound.WithDetails("strategy %s", strategyID)
		}
		return nil, fmt.Errorf("failed to load strategy: %w", err)
	}
	return row.descriptor()
}

// CreateStrategy stores s, assigning an id when it has none.
func (r *StrategyRepo) CreateStrategy(ctx context.Context, s *engine.StrategyDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if s.UserID == "" || s.Name == "" {
		return engine.ErrInvalidParams.WithDetails("strategy userId and name are required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	params, err := json.Marshal(s.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	query := `
		INSERT INTO trading_strategies (id, user_id, name, description, kind, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	err = r.db.QueryRowxContext(ctx, query,
		s.ID, s.UserID, s.Name, s.Description, string(s.EffectiveKind()), string(params)).
		Scan(&s.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return engine.ErrInvalidParams.WithDetails("strategy %s already exists", s.ID)
		}
		return fmt.Errorf("failed to insert strategy: %w", err)
	}
	return nil
}
