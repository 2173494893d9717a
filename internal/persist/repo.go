package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/subzone/server/internal/world"
)

// Store is the blob storage behind the bridge. The pgx-backed ScoreRepo is
// the production implementation; tests substitute an in-memory one.
type Store interface {
	GetPlayerData(ctx context.Context, name, group string, iv world.Interval, key int) ([]byte, bool, error)
	PutPlayerData(ctx context.Context, name, group string, iv world.Interval, key int, data []byte) error
	GetArenaData(ctx context.Context, arena string, iv world.Interval, key int) ([]byte, bool, error)
	PutArenaData(ctx context.Context, arena string, iv world.Interval, key int, data []byte) error
	// EndInterval discards every stored blob of the interval in the group,
	// so the next load starts the interval fresh.
	EndInterval(ctx context.Context, group string, iv world.Interval) error
}

// ScoreRepo stores score blobs in Postgres.
type ScoreRepo struct {
	db *DB
}

func NewScoreRepo(db *DB) *ScoreRepo {
	return &ScoreRepo{db: db}
}

func (r *ScoreRepo) GetPlayerData(ctx context.Context, name, group string, iv world.Interval, key int) ([]byte, bool, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM player_data
		 WHERE name = $1 AND score_group = $2 AND interval = $3 AND key = $4`,
		name, group, int16(iv), key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *ScoreRepo) PutPlayerData(ctx context.Context, name, group string, iv world.Interval, key int, data []byte) error {
	if len(data) == 0 {
		_, err := r.db.Pool.Exec(ctx,
			`DELETE FROM player_data
			 WHERE name = $1 AND score_group = $2 AND interval = $3 AND key = $4`,
			name, group, int16(iv), key)
		return err
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO player_data (name, score_group, interval, key, data)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, score_group, interval, key)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		name, group, int16(iv), key, data)
	return err
}

func (r *ScoreRepo) GetArenaData(ctx context.Context, arena string, iv world.Interval, key int) ([]byte, bool, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM arena_data
		 WHERE arena = $1 AND interval = $2 AND key = $3`,
		arena, int16(iv), key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *ScoreRepo) PutArenaData(ctx context.Context, arena string, iv world.Interval, key int, data []byte) error {
	if len(data) == 0 {
		_, err := r.db.Pool.Exec(ctx,
			`DELETE FROM arena_data WHERE arena = $1 AND interval = $2 AND key = $3`,
			arena, int16(iv), key)
		return err
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO arena_data (arena, interval, key, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (arena, interval, key)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		arena, int16(iv), key, data)
	return err
}

func (r *ScoreRepo) EndInterval(ctx context.Context, group string, iv world.Interval) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`DELETE FROM player_data WHERE score_group = $1 AND interval = $2`,
		group, int16(iv)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM arena_data WHERE arena = $1 AND interval = $2`,
		group, int16(iv)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
