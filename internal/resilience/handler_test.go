package resilience

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually-advanced clock for degradation timing tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDefaultSeverities(t *testing.T) {
	assert.Equal(t, SeverityHigh, DefaultSeverity(CategoryConnection))
	assert.Equal(t, SeverityHigh, DefaultSeverity(CategoryResource))
	assert.Equal(t, SeverityCritical, DefaultSeverity(CategoryCorruption))
	assert.Equal(t, SeverityMedium, DefaultSeverity(CategoryStorage))
	assert.Equal(t, SeverityMedium, DefaultSeverity(CategoryEmbedding))
}

func TestDegradationActivatesOnCriticalErrors(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHandler(HandlerConfig{CriticalThreshold: 5, Now: clock.Now}, quietLogger())

	for i := 0; i < 4; i++ {
		h.Handle(New(CategoryCorruption, "storage", "persist", errors.New("bad node")))
		require.False(t, h.IsDegraded(), "should not degrade before threshold (i=%d)", i)
	}

	h.Handle(New(CategoryCorruption, "storage", "persist", errors.New("bad node")))
	assert.True(t, h.IsDegraded())
}

func TestDegradationAutoDeactivatesAfterTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHandler(HandlerConfig{
		CriticalThreshold:  5,
		DegradationTimeout: 30 * time.Minute,
		Now:                clock.Now,
	}, quietLogger())

	for i := 0; i < 5; i++ {
		h.Handle(New(CategoryCorruption, "storage", "persist", errors.New("bad node")))
	}
	require.True(t, h.IsDegraded())

	clock.Advance(29 * time.Minute)
	assert.True(t, h.IsDegraded())

	clock.Advance(2 * time.Minute)
	assert.False(t, h.IsDegraded(), "degradation should time out without a manual call")
}

func TestDegradationActivatesOnCategoryRate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHandler(HandlerConfig{
		CategoryRateMax:    10,
		CategoryRateWindow: 10 * time.Minute,
		Now:                clock.Now,
	}, quietLogger())

	for i := 0; i < 9; i++ {
		h.Handle(New(CategoryConnection, "graph", "query", errors.New("refused")))
		clock.Advance(30 * time.Second)
	}
	require.False(t, h.IsDegraded())

	h.Handle(New(CategoryConnection, "graph", "query", errors.New("refused")))
	assert.True(t, h.IsDegraded())
}

func TestCategoryRateWindowResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	h := NewHandler(HandlerConfig{
		CategoryRateMax:    10,
		CategoryRateWindow: 10 * time.Minute,
		Now:                clock.Now,
	}, quietLogger())

	// Nine errors, then let the window expire; the next error starts fresh.
	for i := 0; i < 9; i++ {
		h.Handle(New(CategoryConnection, "graph", "query", errors.New("refused")))
	}
	clock.Advance(11 * time.Minute)
	h.Handle(New(CategoryConnection, "graph", "query", errors.New("refused")))
	assert.False(t, h.IsDegraded())
}

func TestExplicitDeactivationResetsCriticalCounter(t *testing.T) {
	h := NewHandler(HandlerConfig{CriticalThreshold: 5}, quietLogger())

	for i := 0; i < 5; i++ {
		h.Handle(New(CategoryCorruption, "storage", "persist", errors.New("bad")))
	}
	require.True(t, h.IsDegraded())

	h.DeactivateDegradation()
	assert.False(t, h.IsDegraded())
	assert.Equal(t, 0, h.Summary().CriticalCount)
}

func TestErrorLogBoundedOldestEvicted(t *testing.T) {
	h := NewHandler(HandlerConfig{MaxLogSize: 3}, quietLogger())

	for i := 0; i < 5; i++ {
		h.Handle(Newf(CategoryStorage, "storage", "persist", "failure %d", i))
	}

	records := h.Records()
	require.Len(t, records, 3)
	assert.Contains(t, records[0].Message, "failure 2")
	assert.Contains(t, records[2].Message, "failure 4")
	assert.Equal(t, 5, h.Summary().TotalHandled)
}

func TestCallbackPanicIsContained(t *testing.T) {
	h := NewHandler(HandlerConfig{}, quietLogger())

	var notified []Category
	h.RegisterCallback(func(rec ErrorRecord) {
		panic("listener bug")
	})
	h.RegisterCallback(func(rec ErrorRecord) {
		notified = append(notified, rec.Category)
	})

	assert.NotPanics(t, func() {
		h.Handle(New(CategoryRetrieval, "retrieval", "search", errors.New("boom")))
	})
	assert.Equal(t, []Category{CategoryRetrieval}, notified)
}

func TestRecordCarriesStructuredContext(t *testing.T) {
	h := NewHandler(HandlerConfig{}, quietLogger())

	err := New(CategoryEmbedding, "embedding", "embed", errors.New("dial tcp")).
		WithOwner("user-9").
		WithMemory("mem-3").
		WithContext("model", "nomic-embed-text")
	rec := h.Handle(err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, CategoryEmbedding, rec.Category)
	assert.Equal(t, "user-9", rec.OwnerID)
	assert.Equal(t, "mem-3", rec.MemoryID)
	assert.Equal(t, "nomic-embed-text", rec.Context["model"])
}

func TestConcurrentHandleIsSafe(t *testing.T) {
	h := NewHandler(HandlerConfig{MaxLogSize: 100}, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Handle(New(CategoryRetrieval, "retrieval", "search", fmt.Errorf("e%d-%d", i, j)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, h.Summary().TotalHandled)
	assert.Len(t, h.Records(), 100)
}
