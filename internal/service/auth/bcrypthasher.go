package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(ctx context.Context, password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(ctx context.Context, hashedPassword string, password string) error
}

// Bcrypt password hasher
// Password is prehashed with sha256, so passwords longer than 72 bytes are not truncated
// Number of concurrent bcrypt computations is bounded, waiting honours context
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be in [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}, nil
}

func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], h.cost)
	return string(hash), err
}

func (h *BcryptHasher) Compare(ctx context.Context, hashedPassword string, password string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
