package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/radiusdt/leadgen-analytics/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRedisDB(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	db, err := NewRedisDB(ctx, config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, db.Health(ctx))

	mr.Close()
	assert.Error(t, db.Health(ctx))
	assert.NoError(t, db.Close())
}

func TestNewRedisDBUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisDB(context.Background(), config.RedisConfig{Addr: addr}, zap.NewNop())
	assert.Error(t, err)
}
