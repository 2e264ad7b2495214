package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authcore/internal/repository"
)

// DBTX is satisfied by pool, connection and transaction
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Storage builds repositories sharing one connection (pool or transaction)
type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) *Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

func (s *Storage) Blacklist() repository.BlacklistRepo {
	return &BlacklistRepo{DB: s.db}
}
