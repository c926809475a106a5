package quest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/questledger/storage"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances one second on every reading.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func nopLogger() *zap.Logger { return zap.NewNop() }

// newTestStore returns a store with a deterministic clock and ids prefixed by idPrefix.
func newTestStore(t *testing.T, kv storage.KV, idPrefix string) (*Store, *fakeClock) {
	t.Helper()
	s := NewStore(kv, Config{}, nopLogger())
	clk := &fakeClock{t: t0}
	s.now = clk.Now
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("%s-%d", idPrefix, n)
	}
	return s, clk
}

var errUnavailable = errors.New("kv unavailable")

// memKV is an in-memory storage.KV whose reads and writes can be made to fail.
type memKV struct {
	mu       sync.Mutex
	data     map[string]string
	failSet  bool
	failGet  bool
	setCalls int
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", errUnavailable
	}
	v, ok := m.data[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.failSet {
		return errUnavailable
	}
	m.data[key] = value
	return nil
}

func (m *memKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) setFailing(set bool) {
	m.mu.Lock()
	m.failSet = set
	m.mu.Unlock()
}

// assertLedgerEquivalent compares ledgers treating items and perks as sets.
func assertLedgerEquivalent(t *testing.T, want, got RewardLedger) {
	t.Helper()
	assert.InDelta(t, want.XP, got.XP, 1e-9, "xp")
	assert.InDelta(t, want.Caps, got.Caps, 1e-9, "caps")
	assert.ElementsMatch(t, want.Items, got.Items, "items")
	assert.ElementsMatch(t, want.Perks, got.Perks, "perks")
}
