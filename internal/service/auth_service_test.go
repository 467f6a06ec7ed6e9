package service

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/qrdia/dpp-provisioner/internal/config"
)

func authConfig(enabled bool, password string) *config.Config {
	var cfg config.Config
	cfg.Auth.Enabled = enabled
	cfg.Auth.Username = "operator"
	cfg.Auth.Password = password
	cfg.Auth.JWTSecret = "test-secret"
	return &cfg
}

func TestAuthenticatePlainPassword(t *testing.T) {
	auth := NewAuthService(authConfig(true, "s3cret"))

	if _, err := auth.Authenticate("operator", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	token, err := auth.Authenticate(" operator ", "s3cret")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	claims, err := auth.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Username != "operator" {
		t.Errorf("username = %q", claims.Username)
	}
	if _, err := auth.Validate(token + "x"); err == nil {
		t.Error("tampered token accepted")
	}

	other := NewAuthService(&config.Config{})
	if _, err := other.Validate(token); err != nil {
		// auth disabled: every token passes as anonymous
		t.Errorf("disabled Validate = %v", err)
	}
}

func TestAuthenticateBcryptPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	auth := NewAuthService(authConfig(true, string(hash)))
	if _, err := auth.Authenticate("operator", "hunter2"); err != nil {
		t.Errorf("bcrypt password rejected: %v", err)
	}
	if _, err := auth.Authenticate("operator", string(hash)); err == nil {
		t.Error("hash accepted as password")
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	a := NewAuthService(authConfig(true, "pw"))
	cfg := authConfig(true, "pw")
	cfg.Auth.JWTSecret = "another-secret"
	b := NewAuthService(cfg)

	token, err := b.Authenticate("operator", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Validate(token); err == nil {
		t.Error("token signed with another secret accepted")
	}
}

func TestEmptySecretsAreIndependent(t *testing.T) {
	cfgA := authConfig(true, "pw")
	cfgA.Auth.JWTSecret = ""
	cfgB := authConfig(true, "pw")
	cfgB.Auth.JWTSecret = "  "
	a, b := NewAuthService(cfgA), NewAuthService(cfgB)

	token, err := a.Authenticate("operator", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Validate(token); err != nil {
		t.Errorf("own token rejected: %v", err)
	}
	if _, err := b.Validate(token); err == nil {
		t.Error("token accepted by a service with a different generated secret")
	}
}
