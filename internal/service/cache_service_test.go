package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

type cacheRepoStub struct {
	items      map[string][]byte
	getErr     error
	lastTTL    time.Duration
	deleted    []string
	deleteFail bool
}

func (r *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	if r.getErr != nil {
		return r.getErr
	}
	raw, ok := r.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.items[key] = raw
	r.lastTTL = ttl
	return nil
}

func (r *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.deleteFail {
		return errors.New("redis down")
	}
	r.deleted = append(r.deleted, pattern)
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := &cacheRepoStub{items: map[string][]byte{}}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, 0, nil, true)

	var out map[string]int
	assert.False(t, svc.Get(context.Background(), "k", &out))

	svc.Set(context.Background(), "k", map[string]int{"v": 3}, 0)
	assert.Equal(t, 10*time.Minute, repo.lastTTL)

	require.True(t, svc.Get(context.Background(), "k", &out))
	assert.Equal(t, 3, out["v"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheMisses))

	svc.Invalidate(context.Background(), "gradebook:*")
	assert.Equal(t, []string{"gradebook:*"}, repo.deleted)
}

func TestCacheServiceFailuresAreMisses(t *testing.T) {
	repo := &cacheRepoStub{items: map[string][]byte{}, getErr: errors.New("timeout"), deleteFail: true}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out string
	assert.False(t, svc.Get(context.Background(), "k", &out))
	svc.Invalidate(context.Background(), "*")
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := &cacheRepoStub{items: map[string][]byte{}}
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	svc.Set(context.Background(), "k", "v", 0)
	assert.Empty(t, repo.items)
	assert.False(t, svc.Enabled())

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}
