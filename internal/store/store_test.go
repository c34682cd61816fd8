package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseKV(t *testing.T, kv KV) {
	ctx := context.Background()

	_, err := kv.Get(ctx, "user")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "user", `{"token":"abc"}`, 0))
	v, err := kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"abc"}`, v)

	require.NoError(t, kv.Set(ctx, "user", "second", 0))
	v, err = kv.Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "second", v)

	require.NoError(t, kv.Delete(ctx, "user"))
	_, err = kv.Get(ctx, "user")
	assert.ErrorIs(t, err, ErrMiss)

	// deleting a missing key is not an error
	require.NoError(t, kv.Delete(ctx, "user"))
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestMemoryKV_TTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFileKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseKV(t, NewFileKV(path))
}

func TestFileKV_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, NewFileKV(path).Set(ctx, "user", "persisted", 0))

	v, err := NewFileKV(path).Get(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, "persisted", v)

	reopened := NewFileKV(path)
	info, err := os.Stat(reopened.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileKV_TTL(t *testing.T) {
	ctx := context.Background()
	kv := NewFileKV(filepath.Join(t.TempDir(), "kv.json"))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "k", "v", time.Second))
	now = now.Add(time.Hour)
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFileKV_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileKV(path).Get(context.Background(), "user")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMiss))
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, Ping(context.Background(), client))
	exerciseKV(t, NewRedisKV(client))
}

func TestRedisKV_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	kv := NewRedisKV(client)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func setupPostgresKV(t *testing.T) (sqlmock.Sqlmock, *PostgresKV) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return mock, NewPostgresKV(db)
}

func TestPostgresKV_EnsureSchema(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS client_kv`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, kv.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Get(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectQuery(`SELECT value, expires_at FROM client_kv`).
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow(`{"token":"t"}`, nil))

	v, err := kv.Get(context.Background(), "user")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"t"}`, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_GetMissing(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectQuery(`SELECT value, expires_at FROM client_kv`).
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}))

	_, err := kv.Get(context.Background(), "user")
	assert.ErrorIs(t, err, ErrMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_GetExpired(t *testing.T) {
	mock, kv := setupPostgresKV(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT value, expires_at FROM client_kv`).
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow("stale", now.Add(-time.Second)))

	_, err := kv.Get(context.Background(), "user")
	assert.ErrorIs(t, err, ErrMiss)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_GetError(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectQuery(`SELECT value, expires_at FROM client_kv`).
		WithArgs("user").
		WillReturnError(errors.New("connection reset"))

	_, err := kv.Get(context.Background(), "user")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresKV_SetUpserts(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectExec(`INSERT INTO client_kv .* ON CONFLICT \(key\)`).
		WithArgs("user", "payload", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Set(context.Background(), "user", "payload", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Delete(t *testing.T) {
	mock, kv := setupPostgresKV(t)

	mock.ExpectExec(`DELETE FROM client_kv WHERE key = \$1`).
		WithArgs("user").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Delete(context.Background(), "user"))
	require.NoError(t, mock.ExpectationsWereMet())
}
