package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
	"github.com/nkiryanov/authcore/internal/models"
	"github.com/nkiryanov/authcore/internal/repository"
	"github.com/nkiryanov/authcore/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/authcore/internal/service/notify"
)

const defaultStoreTimeout = 3 * time.Second

type Config struct {
	// Upper bound for one service operation including all store calls
	// If not set than default is used
	StoreTimeout time.Duration

	// Hasher to use during user registration or login process
	// Bcrypt with default cost is used if not set
	Hasher PasswordHasher

	// Events publisher, events are logged if not set
	Publisher notify.Publisher

	Logger logger.Logger
}

type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// User with freshly issued token pair
type AuthResult struct {
	User   models.User
	Tokens models.TokenPair
}

// Auth service
type AuthService struct {
	// Manager to issue, verify and rotate token pairs
	tokens *tokenmanager.TokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	userRepo  repository.UserRepo
	blacklist repository.BlacklistRepo

	publisher    notify.Publisher
	logger       logger.Logger
	storeTimeout time.Duration

	// Hash compared against on unknown email
	dummyHash string
}

func NewService(cfg Config, tokens *tokenmanager.TokenManager, userRepo repository.UserRepo, blacklist repository.BlacklistRepo) (*AuthService, error) {
	if tokens == nil || userRepo == nil || blacklist == nil {
		return nil, errors.New("token manager and repos must not be nil")
	}

	if cfg.Hasher == nil {
		h, err := NewBcryptHasher(bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		cfg.Hasher = h
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.NewLogPublisher(cfg.Logger)
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}

	dummyHash, err := cfg.Hasher.Hash(context.Background(), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("can't prepare dummy hash: %w", err)
	}

	return &AuthService{
		tokens:       tokens,
		hasher:       cfg.Hasher,
		userRepo:     userRepo,
		blacklist:    blacklist,
		publisher:    cfg.Publisher,
		logger:       cfg.Logger,
		storeTimeout: cfg.StoreTimeout,
		dummyHash:    dummyHash,
	}, nil
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Publish event, failure is logged and never returned to caller
func (s *AuthService) publish(ctx context.Context, event notify.Event) {
	event.OccurredAt = time.Now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish auth event", "type", event.Type, "user_id", event.UserID.String(), "error", err)
	}
}

// Register new user. User stays inactive until email is verified
func (s *AuthService) Register(ctx context.Context, params RegisterParams, meta models.ClientMeta) (AuthResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hash, err := s.hasher.Hash(ctx, params.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err := s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Status:       models.UserStatusInactive,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	pair, err := s.tokens.GeneratePair(ctx, user, meta)
	if err != nil {
		return AuthResult{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	// Registration is not rolled back if verification can't be requested
	verification, err := s.tokens.IssueVerification(user)
	if err != nil {
		s.logger.Error("Failed to issue verification token", "user_id", user.ID.String(), "error", err)
	} else {
		s.publish(ctx, notify.Event{
			Type:   notify.EventEmailVerificationRequested,
			UserID: user.ID,
			Email:  user.Email,
			Token:  verification.Value,
		})
	}

	return AuthResult{User: user, Tokens: pair}, nil
}

// Activate user by verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.ParseVerification(token)
	if err != nil {
		return models.User{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return models.User{}, apperrors.ErrTokenInvalid
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return user, apperrors.ErrTokenInvalid
	case err != nil:
		return user, err
	}

	switch user.Status {
	case models.UserStatusActive:
		return user, nil
	case models.UserStatusDisabled:
		return user, apperrors.ErrAccountDisabled
	}

	return s.userRepo.SetStatus(ctx, user.ID, models.UserStatusActive)
}

// Login by email and password
// Unknown email and wrong password are reported with the same error after the same work
func (s *AuthService) Login(ctx context.Context, email string, password string, meta models.ClientMeta) (AuthResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.userRepo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(ctx, s.dummyHash, password)
		return AuthResult{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return AuthResult{}, err
	}

	err = s.hasher.Compare(ctx, user.PasswordHash, password)
	switch {
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return AuthResult{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return AuthResult{}, fmt.Errorf("can't compare password. Err: %w", err)
	}

	if !user.IsActive() {
		return AuthResult{}, apperrors.ErrAccountDisabled
	}

	pair, err := s.tokens.GeneratePair(ctx, user, meta)
	if err != nil {
		return AuthResult{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return AuthResult{User: user, Tokens: pair}, nil
}

// Logout blacklists access token and revokes refresh token
// Unverifiable or already revoked tokens are skipped: logout is idempotent
// Only store failures are returned
func (s *AuthService) Logout(ctx context.Context, access string, refresh string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var subject string

	if access != "" {
		claims, err := s.tokens.ParseAccess(access)
		if err == nil {
			subject = claims.Subject
			if err := s.blacklistAccess(ctx, access, claims, models.RevokeReasonLogout); err != nil {
				return err
			}
		}
	}

	if refresh == "" {
		return nil
	}

	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return nil
	}
	if subject != "" && claims.Subject != subject {
		s.logger.Warn("Logout with refresh token of other user", "user_id", subject, "refresh_user_id", claims.Subject)
		return nil
	}

	err = s.tokens.RevokeRefresh(ctx, refresh, models.RevokeReasonLogout)
	if errors.Is(err, apperrors.ErrRefreshTokenRevoked) || errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return nil
	}
	return err
}

func (s *AuthService) blacklistAccess(ctx context.Context, access string, claims tokenmanager.Claims, reason string) error {
	userID, err := claims.UserID()
	if err != nil {
		return apperrors.ErrTokenInvalid
	}

	err = s.blacklist.Add(ctx, models.BlacklistEntry{
		TokenHash: models.HashToken(access),
		TokenType: models.TokenTypeAccess,
		UserID:    userID,
		ExpiresAt: claims.ExpiresAt.Time,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("can't blacklist access token. Err: %w", err)
	}
	return nil
}

// Exchange refresh token for a new pair
// Presenting revoked token is treated as token theft: every session of the user is revoked
func (s *AuthService) RefreshPair(ctx context.Context, refresh string, meta models.ClientMeta) (models.TokenPair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return models.TokenPair{}, apperrors.ErrTokenInvalid
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.TokenPair{}, apperrors.ErrNoSuchUser
	case err != nil:
		return models.TokenPair{}, err
	}
	if !user.IsActive() {
		return models.TokenPair{}, apperrors.ErrAccountDisabled
	}
	if claims.Version < user.TokenVersion {
		return models.TokenPair{}, apperrors.ErrTokenRevoked
	}

	pair, err := s.tokens.Rotate(ctx, refresh, user, meta)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
		s.handleReuse(ctx, user)
		return models.TokenPair{}, apperrors.ErrTokenReuseDetected
	case errors.Is(err, apperrors.ErrRefreshTokenExpired):
		return models.TokenPair{}, apperrors.ErrTokenReuseDetected
	case err != nil:
		return models.TokenPair{}, err
	}

	return pair, nil
}

func (s *AuthService) handleReuse(ctx context.Context, user models.User) {
	count, err := s.revokeAll(ctx, user.ID, models.RevokeReasonSecurityBreach)
	if err != nil {
		s.logger.Error("Failed to revoke sessions on token reuse", "user_id", user.ID.String(), "error", err)
	}

	s.logger.Warn("Refresh token reuse detected, sessions revoked", "user_id", user.ID.String(), "revoked", count)
	s.publish(ctx, notify.Event{
		Type:    notify.EventTokenReuseDetected,
		UserID:  user.ID,
		Reason:  models.RevokeReasonSecurityBreach,
		Revoked: count,
	})
}

// Bump user token version and revoke refresh tokens in the ledger
// Version is bumped first: tokens the ledger misses are rejected by version check
func (s *AuthService) revokeAll(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	if _, err := s.userRepo.BumpTokenVersion(ctx, userID); err != nil {
		return 0, err
	}
	return s.tokens.RevokeAll(ctx, userID, reason)
}

// Change password of authenticated user
// Every other session is revoked, caller gets a fresh pair.
// Ledger is revoked before password is stored, so failed call keeps old password usable for retry
func (s *AuthService) ChangePassword(ctx context.Context, session models.Session, current string, next string, meta models.ClientMeta) (models.TokenPair, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user := session.User

	err := s.hasher.Compare(ctx, user.PasswordHash, current)
	switch {
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return models.TokenPair{}, apperrors.ErrWrongPassword
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("can't compare password. Err: %w", err)
	}

	hash, err := s.hasher.Hash(ctx, next)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	count, err := s.tokens.RevokeAll(ctx, user.ID, models.RevokeReasonPasswordChange)
	if err != nil {
		return models.TokenPair{}, err
	}

	// Bumps token version: refresh tokens issued after the ledger revoke are rejected too
	user, err = s.userRepo.SetPassword(ctx, user.ID, hash, time.Now())
	if err != nil {
		return models.TokenPair{}, err
	}

	if session.AccessToken != "" {
		claims, err := s.tokens.ParseAccess(session.AccessToken)
		if err == nil {
			if err := s.blacklistAccess(ctx, session.AccessToken, claims, models.RevokeReasonPasswordChange); err != nil {
				return models.TokenPair{}, err
			}
		}
	}

	pair, err := s.tokens.GeneratePair(ctx, user, meta)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	s.publish(ctx, notify.Event{
		Type:    notify.EventPasswordChanged,
		UserID:  user.ID,
		Email:   user.Email,
		Reason:  models.RevokeReasonPasswordChange,
		Revoked: count,
	})

	return pair, nil
}

// Revoke every refresh token of the user
func (s *AuthService) RevokeSessions(ctx context.Context, userID uuid.UUID, reason string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	count, err := s.revokeAll(ctx, userID, reason)
	if err != nil {
		return 0, err
	}

	s.logger.Info("User sessions revoked", "user_id", userID.String(), "reason", reason, "revoked", count)
	s.publish(ctx, notify.Event{
		Type:    notify.EventSessionsRevoked,
		UserID:  userID,
		Reason:  reason,
		Revoked: count,
	})

	return count, nil
}

// Disable user and revoke every refresh token
// Access tokens of disabled user are rejected by Authenticate
func (s *AuthService) DisableUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user, err := s.userRepo.SetStatus(ctx, userID, models.UserStatusDisabled)
	if err != nil {
		return user, err
	}

	count, err := s.tokens.RevokeAll(ctx, userID, models.RevokeReasonAdmin)
	if err != nil {
		return user, err
	}

	s.publish(ctx, notify.Event{
		Type:    notify.EventUserDisabled,
		UserID:  userID,
		Reason:  models.RevokeReasonAdmin,
		Revoked: count,
	})

	return user, nil
}

// Authenticate access token and return session
// Error is one of session guard outcomes or store failure
func (s *AuthService) Authenticate(ctx context.Context, access string) (models.Session, error) {
	if access == "" {
		return models.Session{}, apperrors.ErrMissingToken
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	blacklisted, err := s.blacklist.Contains(ctx, models.HashToken(access), time.Now())
	if err != nil {
		return models.Session{}, fmt.Errorf("can't check blacklist. Err: %w", err)
	}
	if blacklisted {
		if claims, ok := s.tokens.DecodeAccess(access); ok {
			s.logger.Info("Blacklisted access token presented", "user_id", claims.Subject, "jti", claims.ID)
		}
		return models.Session{}, apperrors.ErrTokenRevoked
	}

	claims, err := s.tokens.ParseAccess(access)
	if err != nil {
		return models.Session{}, err
	}
	userID, err := claims.UserID()
	if err != nil || claims.IssuedAt == nil {
		return models.Session{}, apperrors.ErrTokenInvalid
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.Session{}, apperrors.ErrNoSuchUser
	case err != nil:
		return models.Session{}, err
	}

	if !user.IsActive() {
		return models.Session{}, apperrors.ErrAccountDisabled
	}

	// Password changed or every session revoked after the token was issued
	if claims.Version < user.TokenVersion {
		return models.Session{}, apperrors.ErrTokenRevoked
	}

	return models.Session{
		User:        user,
		AccessToken: access,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
