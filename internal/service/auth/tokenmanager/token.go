package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
	defaultVerifyTokenTTL  = 24 * time.Hour
	defaultSigningMethod   = "HS256"
)

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Required to be set and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	VerifyTTL  time.Duration
}

type TokenManager struct {
	access  *Codec
	refresh *Codec

	// Email verification tokens are signed with access secret
	// Purpose claim keeps them apart from access tokens
	verify *Codec

	// Refresh token ledger
	refreshRepo repository.RefreshTokenRepo
}

func New(cfg Config, refreshRepo repository.RefreshTokenRepo) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("secret keys must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)
	setDefaultDuration(&cfg.VerifyTTL, defaultVerifyTokenTTL)

	access, err := NewCodec(cfg.AccessSecret, cfg.Alg, cfg.AccessTTL, PurposeAccess)
	if err != nil {
		return nil, fmt.Errorf("access codec: %w", err)
	}
	refresh, err := NewCodec(cfg.RefreshSecret, cfg.Alg, cfg.RefreshTTL, PurposeRefresh)
	if err != nil {
		return nil, fmt.Errorf("refresh codec: %w", err)
	}
	verify, err := NewCodec(cfg.AccessSecret, cfg.Alg, cfg.VerifyTTL, PurposeVerify)
	if err != nil {
		return nil, fmt.Errorf("verify codec: %w", err)
	}

	return &TokenManager{
		access:      access,
		refresh:     refresh,
		verify:      verify,
		refreshRepo: refreshRepo,
	}, nil
}

// Issue access and refresh tokens without touching the ledger
func (m *TokenManager) issuePair(user models.User) (models.TokenPair, Claims, error) {
	var pair models.TokenPair

	access, _, err := m.access.Issue(Claims{
		RegisteredClaims: subject(user.ID),
		Email:            user.Email,
		Role:             user.Role,
		Version:          user.TokenVersion,
	})
	if err != nil {
		return pair, Claims{}, err
	}

	refresh, refreshClaims, err := m.refresh.Issue(Claims{
		RegisteredClaims: subject(user.ID),
		Version:          user.TokenVersion,
	})
	if err != nil {
		return pair, Claims{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, refreshClaims, nil
}

func (m *TokenManager) ledgerRecord(userID uuid.UUID, token models.IssuedToken, claims Claims, meta models.ClientMeta) models.RefreshToken {
	return models.RefreshToken{
		ID:        uuid.New(),
		TokenHash: models.HashToken(token.Value),
		UserID:    userID,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: token.ExpiresAt,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	}
}

// Generate new token pair and store refresh token in the ledger
func (m *TokenManager) GeneratePair(ctx context.Context, user models.User, meta models.ClientMeta) (models.TokenPair, error) {
	pair, refreshClaims, err := m.issuePair(user)
	if err != nil {
		return pair, err
	}

	_, err = m.refreshRepo.Create(ctx, m.ledgerRecord(user.ID, pair.Refresh, refreshClaims, meta))
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return pair, nil
}

// Rotate refresh token: revoke the presented one and store the next atomically
// Ledger errors returned as is: ErrRefreshTokenRevoked, ErrRefreshTokenExpired or ErrRefreshTokenNotFound
func (m *TokenManager) Rotate(ctx context.Context, refresh string, user models.User, meta models.ClientMeta) (models.TokenPair, error) {
	pair, refreshClaims, err := m.issuePair(user)
	if err != nil {
		return pair, err
	}

	next := m.ledgerRecord(user.ID, pair.Refresh, refreshClaims, meta)
	_, err = m.refreshRepo.Rotate(ctx, models.HashToken(refresh), next, time.Now())
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	}

	return pair, nil
}

// Revoke refresh token with the reason
func (m *TokenManager) RevokeRefresh(ctx context.Context, refresh string, reason string) error {
	_, err := m.refreshRepo.Revoke(ctx, models.HashToken(refresh), reason, time.Now())
	if err != nil {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

// Revoke every active refresh token of the user
func (m *TokenManager) RevokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	count, err := m.refreshRepo.RevokeAllForUser(ctx, userID, reason, time.Now())
	if err != nil {
		return 0, fmt.Errorf("error while revoking user refresh tokens. Err: %w", err)
	}
	return count, nil
}

// Parse and validate access token
func (m *TokenManager) ParseAccess(access string) (Claims, error) {
	return m.access.Verify(access)
}

// Parse and validate refresh token signature and expiration, ledger is not checked
func (m *TokenManager) ParseRefresh(refresh string) (Claims, error) {
	return m.refresh.Verify(refresh)
}

// Read access token claims without verification
// Claims are good for logging only and never used to authorize
func (m *TokenManager) DecodeAccess(access string) (Claims, bool) {
	return m.access.DecodeUnsafe(access)
}

func (m *TokenManager) IssueVerification(user models.User) (models.IssuedToken, error) {
	token, _, err := m.verify.Issue(Claims{
		RegisteredClaims: subject(user.ID),
		Email:            user.Email,
	})
	return token, err
}

func (m *TokenManager) ParseVerification(token string) (Claims, error) {
	return m.verify.Verify(token)
}
