package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/pkg/config"
)

type stubUserRepository struct {
	byName map[string]*domain.User
	nextID int64
}

func newStubUsers() *stubUserRepository {
	return &stubUserRepository{byName: map[string]*domain.User{}}
}

func (s *stubUserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if _, ok := s.byName[user.Name]; ok {
		return repository.ErrAlreadyExists
	}
	s.nextID++
	user.ID = s.nextID
	copied := *user
	s.byName[user.Name] = &copied
	return nil
}

func (s *stubUserRepository) GetUserByName(ctx context.Context, name string) (*domain.User, error) {
	if u, ok := s.byName[name]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubUserRepository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	for _, u := range s.byName {
		if u.ID == id {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func newService(users repository.UserRepository) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(users, log, config.Config{JWTSecret: "test-secret", AccessTokenTTL: time.Hour})
}

func TestSignupLoginAuthorize(t *testing.T) {
	svc := newService(newStubUsers())
	ctx := context.Background()

	user, token, err := svc.Signup(ctx, " alice ", "alice@example.com", "s3cret!")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if user.Name != "alice" || token.AccessToken == "" || token.ExpiresIn != time.Hour {
		t.Fatalf("unexpected signup result %+v %+v", user, token)
	}

	_, login, err := svc.Login(ctx, "alice", "s3cret!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	got, claims, err := svc.Authorize(ctx, "  "+login.AccessToken)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got.ID != user.ID || claims.Name != "alice" {
		t.Fatalf("authorize returned %+v %+v", got, claims)
	}
}

func TestSignupValidation(t *testing.T) {
	svc := newService(newStubUsers())
	if _, _, err := svc.Signup(context.Background(), "", "", "longenough"); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty name, got %v", err)
	}
	if _, _, err := svc.Signup(context.Background(), "bob", "", "123"); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for short password, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newService(newStubUsers())
	ctx := context.Background()
	if _, _, err := svc.Signup(ctx, "carol", "", "password"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, _, err := svc.Login(ctx, "carol", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "dave", "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestAuthorizeRejectsGarbage(t *testing.T) {
	svc := newService(newStubUsers())
	for _, token := range []string{"", "not-a-jwt"} {
		if _, _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Authorize(%q) = %v, want ErrUnauthorized", token, err)
		}
	}
}
