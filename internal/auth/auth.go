// Package auth validates login credentials against the accounts table,
// creating accounts on first login when the zone allows it. All calls run on
// worker goroutines; nothing here touches mainloop state.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/subzone/server/internal/config"
	"github.com/subzone/server/internal/persist"
	"github.com/subzone/server/internal/world"
)

type AccountRow struct {
	Name         string
	PasswordHash string
	AccessLevel  int16
	Banned       bool
	CreatedAt    time.Time
	LastActive   *time.Time
}

type AccountRepo struct {
	db *persist.DB
}

func NewAccountRepo(db *persist.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Load returns nil, nil when no account exists under name.
func (r *AccountRepo) Load(ctx context.Context, name string) (*AccountRow, error) {
	row := &AccountRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT name, password_hash, access_level, banned, created_at, last_active
		 FROM accounts WHERE name = $1`, name,
	).Scan(
		&row.Name, &row.PasswordHash, &row.AccessLevel,
		&row.Banned, &row.CreatedAt, &row.LastActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string) (*AccountRow, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	row := &AccountRow{
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastActive:   &now,
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO accounts (name, password_hash, last_active)
		 VALUES ($1, $2, $3)`,
		row.Name, row.PasswordHash, row.LastActive,
	)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *AccountRepo) ValidatePassword(hash string, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

func (r *AccountRepo) UpdateLastActive(ctx context.Context, name string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE accounts SET last_active = NOW() WHERE name = $1`, name)
	return err
}

// accountStore is the repo surface the authenticator needs; tests substitute
// an in-memory one.
type accountStore interface {
	Load(ctx context.Context, name string) (*AccountRow, error)
	Create(ctx context.Context, name, rawPassword string) (*AccountRow, error)
	ValidatePassword(hash, rawPassword string) bool
	UpdateLastActive(ctx context.Context, name string) error
}

// Authenticator implements world.Authenticator on top of the account repo.
type Authenticator struct {
	log      *zap.Logger
	repo     accountStore
	allowNew bool
}

func NewAuthenticator(repo *AccountRepo, cfg config.AuthConfig, log *zap.Logger) *Authenticator {
	return &Authenticator{log: log, repo: repo, allowNew: cfg.AllowNewUsers}
}

func (a *Authenticator) Authenticate(ctx context.Context, name, password string) world.AuthCode {
	if name == "" {
		return world.AuthBadPassword
	}

	row, err := a.repo.Load(ctx, name)
	if err != nil {
		a.log.Error("account lookup failed", zap.String("name", name), zap.Error(err))
		return world.AuthServerBusy
	}

	if row == nil {
		if !a.allowNew {
			return world.AuthNoPermission
		}
		if _, err := a.repo.Create(ctx, name, password); err != nil {
			a.log.Error("account create failed", zap.String("name", name), zap.Error(err))
			return world.AuthServerBusy
		}
		a.log.Info("created account", zap.String("name", name))
		return world.AuthOK
	}

	if row.Banned {
		return world.AuthLockedOut
	}
	if !a.repo.ValidatePassword(row.PasswordHash, password) {
		return world.AuthBadPassword
	}
	if err := a.repo.UpdateLastActive(ctx, name); err != nil {
		a.log.Warn("last-active update failed", zap.String("name", name), zap.Error(err))
	}
	return world.AuthOK
}
