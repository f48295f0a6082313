package store

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	coreerrors "sessionmux-core/internal/core/errors"
	corelog "sessionmux-core/internal/core/log"
	"sessionmux-core/internal/session/model"
)

// fakeRemote 内存远端，可按 key 注入失败
type fakeRemote struct {
	mu          sync.Mutex
	records     map[model.Key]*RemoteRecord
	order       []model.Key
	failSave    map[model.Key]bool
	failLoadAll error
	saves       int
	deletes     []model.Key
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[model.Key]*RemoteRecord),
		failSave: make(map[model.Key]bool),
	}
}

func (f *fakeRemote) Save(_ context.Context, rec *RemoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.NewKey(rec.OwnerID, rec.DeviceID)
	if f.failSave[key] {
		return coreerrors.Newf(coreerrors.CodeRemoteError, "injected save failure for %s", key)
	}
	f.saves++
	if _, ok := f.records[key]; !ok {
		f.order = append(f.order, key)
	}
	cp := *rec
	f.records[key] = &cp
	return nil
}

func (f *fakeRemote) Load(_ context.Context, key model.Key) (*RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return nil, coreerrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRemote) LoadAll(_ context.Context, filter RemoteFilter) ([]*RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoadAll != nil {
		return nil, f.failLoadAll
	}
	var out []*RemoteRecord
	for _, key := range f.order {
		rec, ok := f.records[key]
		if !ok {
			continue
		}
		if filter.InstanceID != "" && rec.InstanceID != filter.InstanceID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRemote) Delete(_ context.Context, key model.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, key)
	f.deletes = append(f.deletes, key)
	return nil
}

func (f *fakeRemote) put(rec *RemoteRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.NewKey(rec.OwnerID, rec.DeviceID)
	if _, ok := f.records[key]; !ok {
		f.order = append(f.order, key)
	}
	f.records[key] = rec
}

func (f *fakeRemote) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeRemote) has(key model.Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[key]
	return ok
}

type fixture struct {
	mr     *miniredis.Miniredis
	client *redis.Client
	cache  *RedisCache
	remote *fakeRemote
	store  *DualTier
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		mr:     mr,
		client: client,
		cache:  NewRedisCache(client, "smx:", corelog.NewNopLogger()),
		remote: newFakeRemote(),
	}
	cfg := Config{
		InstanceID: "node-1",
		Local:      f.cache,
		Remote:     f.remote,
		SyncDelay:  20 * time.Millisecond,
		Logger:     corelog.NewNopLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	f.store = s
	return f
}

func sortedKeys(keys []model.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}
