package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marketorder/gateway/internal/model"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// TokenStore is the durable id -> Token mapping (§3 Token, GET/POST/DELETE
// token routes in §6).
type TokenStore struct{}

// NewTokenStore returns a TokenStore backed by the shared pool.
func NewTokenStore() *TokenStore { return &TokenStore{} }

func (s *TokenStore) Create(ctx context.Context, t model.Token) error {
	_, err := Pool().Exec(ctx, `
		INSERT INTO tokens (id, created_at, ttl, op_limit, tc_limit)
		VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.CreatedAt.Unix(), t.TTL, t.OpLimit, t.TCLimit)
	return err
}

func (s *TokenStore) Update(ctx context.Context, t model.Token) (model.Token, error) {
	row := Pool().QueryRow(ctx, `
		UPDATE tokens SET ttl = $2, op_limit = $3, tc_limit = $4
		WHERE id = $1
		RETURNING id, created_at, ttl, op_limit, tc_limit`,
		t.ID, t.TTL, t.OpLimit, t.TCLimit)
	return scanToken(row)
}

func (s *TokenStore) Get(ctx context.Context, id string) (model.Token, error) {
	row := Pool().QueryRow(ctx, `
		SELECT id, created_at, ttl, op_limit, tc_limit FROM tokens WHERE id = $1`, id)
	return scanToken(row)
}

func (s *TokenStore) Delete(ctx context.Context, id string) (model.Token, error) {
	row := Pool().QueryRow(ctx, `
		DELETE FROM tokens WHERE id = $1
		RETURNING id, created_at, ttl, op_limit, tc_limit`, id)
	return scanToken(row)
}

func scanToken(row pgx.Row) (model.Token, error) {
	var (
		id              string
		createdAt, ttl  int64
		opLimit, tcLimit int
	)
	if err := row.Scan(&id, &createdAt, &ttl, &opLimit, &tcLimit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Token{}, ErrNotFound
		}
		return model.Token{}, err
	}
	return model.Token{
		ID:        id,
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		TTL:       ttl,
		OpLimit:   opLimit,
		TCLimit:   tcLimit,
	}, nil
}
