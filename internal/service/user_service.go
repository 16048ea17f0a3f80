package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/meridian-vault/internal/domain"
	"github.com/prn-tf/meridian-vault/internal/pkg/crypto"
	"github.com/prn-tf/meridian-vault/internal/repository"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// UserService handles user registration, authentication and administration.
// Sessions are opaque bearer tokens stored in the cache with a TTL; logout
// and token expiry are both just the cache entry going away.
type UserService struct {
	userRepo repository.UserRepository
	cache    repository.Cache
	logger   zerolog.Logger
	config   AuthConfig
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	// TokenTTL is how long a bearer token stays valid after login.
	TokenTTL time.Duration

	// BcryptCost is the bcrypt work factor for password hashing.
	BcryptCost int

	// DefaultQuotaBytes is the storage quota for new users. Zero means
	// unlimited.
	DefaultQuotaBytes int64
}

// DefaultAuthConfig returns sensible defaults.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		TokenTTL:          24 * time.Hour,
		BcryptCost:        bcrypt.DefaultCost,
		DefaultQuotaBytes: 0,
	}
}

// NewUserService creates a new UserService.
func NewUserService(userRepo repository.UserRepository, cache repository.Cache, logger zerolog.Logger, config AuthConfig) *UserService {
	return &UserService{
		userRepo: userRepo,
		cache:    cache,
		logger:   logger.With().Str("service", "user").Logger(),
		config:   config,
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// RegisterInput contains the data needed to register a user.
type RegisterInput struct {
	Email    string
	Password string
}

// LoginInput contains login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// LoginOutput contains the session token issued on login.
type LoginOutput struct {
	Token     string
	ExpiresAt time.Time
	User      *domain.User
}

// UpdateUserInput contains admin-editable user fields. Nil pointers leave
// the field unchanged.
type UpdateUserInput struct {
	UserID     int64
	IsActive   *bool
	IsAdmin    *bool
	QuotaBytes *int64
}

// session is the cached state behind a bearer token.
type session struct {
	UserID int64 `json:"user_id"`
}

// =============================================================================
// Service Methods
// =============================================================================

// Register creates a new user account with the default quota.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(input.Password) < minPasswordLength {
		return nil, ErrInvalidPassword
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	user := domain.NewUser(email, string(hash), s.config.DefaultQuotaBytes)
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, domain.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", user.ID).Str("email", user.Email).Msg("user registered")
	return user, nil
}

// Login verifies credentials and issues a bearer token.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*LoginOutput, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Same failure as a bad password, so login probing cannot
			// distinguish unknown accounts.
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !user.CanAuthenticate() {
		return nil, domain.ErrUserInactive
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := crypto.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	data, err := json.Marshal(session{UserID: user.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if err := s.cache.Set(ctx, repository.CacheKeys.Session(token), data, s.config.TokenTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", user.ID).Msg("user logged in")

	return &LoginOutput{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(s.config.TokenTTL),
		User:      user,
	}, nil
}

// Authenticate resolves a bearer token to its user.
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	data, err := s.cache.Get(ctx, repository.CacheKeys.Session(token))
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	var sess session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !user.CanAuthenticate() {
		return nil, domain.ErrUserInactive
	}

	return user, nil
}

// Logout revokes a bearer token.
func (s *UserService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.cache.Delete(ctx, repository.CacheKeys.Session(token)); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *UserService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return user, nil
}

// ListUsers returns users with pagination. Admin only; the handler
// enforces the privilege.
func (s *UserService) ListUsers(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	result, err := s.userRepo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// UpdateUser applies admin edits: activation, admin flag, quota.
func (s *UserService) UpdateUser(ctx context.Context, input UpdateUserInput) (*domain.User, error) {
	user, err := s.GetUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if input.IsAdmin != nil {
		user.IsAdmin = *input.IsAdmin
	}
	if input.QuotaBytes != nil {
		if *input.QuotaBytes < 0 {
			return nil, fmt.Errorf("%w: quota must not be negative", ErrInternalError)
		}
		user.QuotaBytes = *input.QuotaBytes
	}
	user.UpdatedAt = time.Now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("user_id", user.ID).Msg("user updated")
	return user, nil
}

// validEmail does a minimal structural check; real validation is the
// confirmation email's job, which this system does not send.
func validEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if strings.Contains(email[at+1:], "@") {
		return false
	}
	return !strings.ContainsAny(email, " \t\r\n")
}
