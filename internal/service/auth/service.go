package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/pkg/config"
	"github.com/csarrepo/csarrepo/pkg/crypto"
	jwtpkg "github.com/csarrepo/csarrepo/pkg/jwt"
)

var (
	// ErrInvalidCredentials is returned when name or password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when a token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
)

const minPasswordLength = 6

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.Config
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.Config) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// Token is a signed access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Signup registers a new user.
func (s Service) Signup(ctx context.Context, name, mail, password string) (*domain.User, Token, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Token{}, fmt.Errorf("user name is required: %w", repository.ErrInvalidArgument)
	}
	if len(password) < minPasswordLength {
		return nil, Token{}, fmt.Errorf("password must have at least %d characters: %w", minPasswordLength, repository.ErrInvalidArgument)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, Token{}, err
	}
	user := &domain.User{
		Name:         name,
		Mail:         strings.TrimSpace(mail),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, Token{}, err
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "name", user.Name)
	return user, token, nil
}

// Login authenticates a user and returns a token.
func (s Service) Login(ctx context.Context, name, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("login rejected", "user_id", user.ID)
		return nil, Token{}, ErrInvalidCredentials
	}
	token, err := s.IssueToken(user)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Authorize validates a bearer token and returns the associated user and claims.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	return user, claims, nil
}

// IssueToken signs an access token for user.
func (s Service) IssueToken(user *domain.User) (Token, error) {
	access, err := jwtpkg.GenerateToken(user.ID, user.Name, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: access, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
