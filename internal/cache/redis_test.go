package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/marketorder/gateway/internal/config"
	"github.com/marketorder/gateway/internal/model"
)

func TestConnectWithEmptyURLReturnsDisabledCache(t *testing.T) {
	c, err := Connect(context.Background(), config.RedisConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Enabled())
}

func TestDisabledCacheMethodsAreNoOps(t *testing.T) {
	c, err := Connect(context.Background(), config.RedisConfig{}, zap.NewNop())
	require.NoError(t, err)

	c.PutTask(context.Background(), model.Task{OrderHash: "h"}, time.Second)

	_, ok := c.GetTask(context.Background(), "h")
	assert.False(t, ok)

	claimed, supported := c.ClaimTestTokenAddr(context.Background(), "1.2.3.4", time.Second)
	assert.False(t, claimed)
	assert.False(t, supported)
}

func TestNilCacheIsSafeToUse(t *testing.T) {
	var c *Cache
	assert.False(t, c.Enabled())
	_, ok := c.GetTask(context.Background(), "h")
	assert.False(t, ok)
	c.PutTask(context.Background(), model.Task{OrderHash: "h"}, time.Second)
}
