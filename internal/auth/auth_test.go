package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/world"
)

type memAccounts struct {
	rows    map[string]*AccountRow
	loadErr error
	created []string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: make(map[string]*AccountRow)}
}

func (m *memAccounts) Load(_ context.Context, name string) (*AccountRow, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.rows[name], nil
}

func (m *memAccounts) Create(_ context.Context, name, rawPassword string) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	row := &AccountRow{Name: name, PasswordHash: string(hash)}
	m.rows[name] = row
	m.created = append(m.created, name)
	return row, nil
}

func (m *memAccounts) ValidatePassword(hash, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

func (m *memAccounts) UpdateLastActive(context.Context, string) error { return nil }

func newAuth(repo accountStore, allowNew bool) *Authenticator {
	return &Authenticator{log: zap.NewNop(), repo: repo, allowNew: allowNew}
}

func TestFirstLoginCreatesAccount(t *testing.T) {
	repo := newMemAccounts()
	a := newAuth(repo, true)

	code := a.Authenticate(context.Background(), "newbie", "secret")
	assert.Equal(t, world.AuthOK, code)
	assert.Equal(t, []string{"newbie"}, repo.created)

	// Second login with the same password verifies against the stored hash.
	assert.Equal(t, world.AuthOK, a.Authenticate(context.Background(), "newbie", "secret"))
	assert.Equal(t, world.AuthBadPassword, a.Authenticate(context.Background(), "newbie", "wrong"))
}

func TestNewAccountsCanBeDisabled(t *testing.T) {
	a := newAuth(newMemAccounts(), false)
	code := a.Authenticate(context.Background(), "stranger", "pw")
	assert.Equal(t, world.AuthNoPermission, code)
}

func TestBannedAccountLockedOut(t *testing.T) {
	repo := newMemAccounts()
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	repo.rows["badguy"] = &AccountRow{Name: "badguy", PasswordHash: string(hash), Banned: true}

	a := newAuth(repo, true)
	assert.Equal(t, world.AuthLockedOut, a.Authenticate(context.Background(), "badguy", "pw"))
}

func TestLookupFailureIsBusyNotDenied(t *testing.T) {
	repo := newMemAccounts()
	repo.loadErr = errors.New("connection refused")
	a := newAuth(repo, true)
	assert.Equal(t, world.AuthServerBusy, a.Authenticate(context.Background(), "anyone", "pw"))
}

func TestEmptyNameRejected(t *testing.T) {
	a := newAuth(newMemAccounts(), true)
	assert.Equal(t, world.AuthBadPassword, a.Authenticate(context.Background(), "", "pw"))
}

func TestConfigWiring(t *testing.T) {
	a := NewAuthenticator(nil, config.AuthConfig{AllowNewUsers: true}, zap.NewNop())
	assert.True(t, a.allowNew)
}
