package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"smartpos/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) setActive(username string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Active = active
	s.users[username] = user
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"manager": {
				Username:  "manager",
				Password:  "manager123",
				Role:      domain.RoleManager,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "manager",
		Password: "manager123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.TokenType != "bearer" || resp.Username != "manager" || resp.Role != domain.RoleManager {
		t.Fatalf("unexpected login response %+v", resp)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "manager123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestEnsureUserStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	created, err := manager.EnsureUser(context.Background(), " Owner ", "pass1234", domain.RoleManager)
	if err != nil {
		t.Fatalf("ensure user failed: %v", err)
	}
	if !created {
		t.Fatalf("expected user to be created")
	}

	saved, ok := store.users["owner"]
	if !ok {
		t.Fatalf("expected user to be saved under normalized name")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	again, err := manager.EnsureUser(context.Background(), "owner", "other-pass", domain.RoleStaff)
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if again {
		t.Fatalf("expected existing user to be left alone")
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "OWNER", Password: "pass1234"}); err != nil {
		t.Fatalf("login with ensured user failed: %v", err)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"staff": {Username: "staff", Password: mustHashPassword(t, "staff123"), Role: domain.RoleStaff, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff", Password: "staff123"})
	if !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestParseTokenRejectsDeactivatedAccount(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"staff": {Username: "staff", Password: mustHashPassword(t, "staff123"), Role: domain.RoleStaff, Active: true},
	}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "staff", Password: "staff123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "staff" || actor.Role != domain.RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}

	store.setActive("staff", false)
	manager.bootstrapUsers(context.Background())

	if _, err := manager.ParseToken(resp.AccessToken); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected token of deactivated account to be rejected, got %v", err)
	}
}

func TestParseTokenRejectsForeignSignatures(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil)
	other := NewAuthManager("another-secret", time.Hour, nil)

	token, err := other.sign("manager", domain.RoleManager, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := manager.sign("manager", domain.RoleManager, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "manager"},
		Role:             domain.RoleManager,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := manager.ParseToken(raw); err == nil {
		t.Fatalf("expected alg=none token to be rejected")
	}
}
