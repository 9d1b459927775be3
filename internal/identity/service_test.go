package identity

import (
	"context"
	"errors"
	"testing"
)

type recordingProvisioner struct {
	users []string
}

func (p *recordingProvisioner) EnsureAccounts(_ context.Context, userID string) error {
	p.users = append(p.users, userID)
	return nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	repo := NewMemoryRepository()
	accounts := &recordingProvisioner{}
	svc := NewService(repo, accounts)

	ctx := context.Background()
	user, err := svc.Register(ctx, Credentials{Phone: "+237 650 000 000", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if user.Tier != tierZero {
		t.Fatalf("expected tier0, got %s", user.Tier)
	}
	if user.Phone != "+237650000000" {
		t.Fatalf("expected normalized phone, got %s", user.Phone)
	}
	if len(accounts.users) != 1 || accounts.users[0] != user.ID {
		t.Fatalf("expected accounts to be provisioned for %s, got %v", user.ID, accounts.users)
	}

	authed, err := svc.Authenticate(ctx, Credentials{Phone: user.Phone, PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.Tier != tierOne {
		t.Fatalf("expected promotion to tier1, got %s", authed.Tier)
	}
	if authed.LastLogin == nil {
		t.Fatal("expected last login to be recorded")
	}
}

func TestRegisterDuplicatePhone(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()
	if _, err := svc.Register(ctx, Credentials{Phone: "555", PIN: "1234"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, Credentials{Phone: "555", PIN: "9999"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected user exists, got %v", err)
	}
}

func TestAuthenticateDeviceMismatch(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Authenticate(ctx, Credentials{Phone: "123", PIN: "1234", DeviceID: "device-2"}); err == nil {
		t.Fatalf("expected device mismatch error")
	}
}

func TestFindByPhone(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()
	user, _ := svc.Register(ctx, Credentials{Phone: "777 1", PIN: "1234"})

	found, err := svc.FindByPhone(ctx, "7771")
	if err != nil || found.ID != user.ID {
		t.Fatalf("expected to find %s, got %+v, %v", user.ID, found, err)
	}
	if _, err := svc.FindByPhone(ctx, "000"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingProvisioner struct {
	fail  bool
	users []string
}

func (p *failingProvisioner) EnsureAccounts(_ context.Context, userID string) error {
	if p.fail {
		return errors.New("accounts unavailable")
	}
	p.users = append(p.users, userID)
	return nil
}

func TestRegisterRollsBackWhenProvisioningFails(t *testing.T) {
	repo := NewMemoryRepository()
	accounts := &failingProvisioner{fail: true}
	svc := NewService(repo, accounts)
	ctx := context.Background()

	if _, err := svc.Register(ctx, Credentials{Phone: "+233200000009", PIN: "1234"}); err == nil {
		t.Fatal("expected provisioning failure to surface")
	}
	if _, err := repo.FindByPhone(ctx, "+233200000009"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user to be rolled back, got %v", err)
	}

	accounts.fail = false
	user, err := svc.Register(ctx, Credentials{Phone: "+233200000009", PIN: "1234"})
	if err != nil {
		t.Fatalf("retry should succeed, got %v", err)
	}
	if len(accounts.users) != 1 || accounts.users[0] != user.ID {
		t.Fatalf("expected accounts for %s, got %v", user.ID, accounts.users)
	}
}
