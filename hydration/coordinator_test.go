package hydration

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memophor/scedge/cache"
	"github.com/memophor/scedge/logger"
	"github.com/memophor/scedge/metrics"
	"github.com/memophor/scedge/types"
)

const originBody = `{
	"key": "demo:greeting:en-US",
	"artifact": {
		"answer": "Hello, world!",
		"policy": {"tenant": "demo", "phi": false, "pii": false},
		"provenance": [{"source": "origin"}],
		"hash": "v1"
	},
	"ttl_remaining_seconds": 300
}`

func newTestCoordinator(t *testing.T, baseURL string) (*Coordinator, *cache.Manager) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())
	manager := cache.NewManager(cache.NewMemoryStore(log), metrics.NewNoop(), log, 0)

	upstream := NewUpstreamClient(&types.UpstreamConfig{
		BaseURL:        baseURL,
		TimeoutSeconds: 2,
	}, metrics.NewNoop(), log)

	return NewCoordinator(upstream, manager, log), manager
}

func TestHydrateStoresAndReturnsArtifact(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo:greeting:en-US", r.URL.Query().Get("key"))
		assert.Equal(t, "demo", r.URL.Query().Get("tenant"))
		fmt.Fprint(w, originBody)
	}))
	defer origin.Close()

	coordinator, manager := newTestCoordinator(t, origin.URL)

	response, err := coordinator.Hydrate("demo:greeting:en-US", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v1", response.Artifact.Hash)
	assert.InDelta(t, 300, response.TTLRemainingSeconds, 5)

	// The artifact is now cached; the next lookup needs no origin.
	cached, err := manager.Lookup("demo:greeting:en-US")
	require.NoError(t, err)
	assert.Equal(t, "v1", cached.Artifact.Hash)
}

func TestHydrateCoalescesConcurrentMisses(t *testing.T) {
	var calls int64
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, originBody)
	}))
	defer origin.Close()

	coordinator, _ := newTestCoordinator(t, origin.URL)

	const waiters = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			_, errs[idx] = coordinator.Hydrate("demo:greeting:en-US", "demo")
		}(i)
	}

	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestHydrateOriginMiss(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer origin.Close()

	coordinator, manager := newTestCoordinator(t, origin.URL)

	_, err := coordinator.Hydrate("absent", "demo")
	assert.ErrorIs(t, err, types.ErrNotFound)

	// Nothing was cached.
	_, err = manager.Lookup("absent")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestHydrateOriginFailureAllowsRetry(t *testing.T) {
	var calls int64
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, originBody)
	}))
	defer origin.Close()

	coordinator, _ := newTestCoordinator(t, origin.URL)

	_, err := coordinator.Hydrate("demo:greeting:en-US", "demo")
	assert.ErrorIs(t, err, types.ErrUpstreamFailure)

	// Per key state cleared on failure, the retry reaches the origin.
	response, err := coordinator.Hydrate("demo:greeting:en-US", "demo")
	require.NoError(t, err)
	assert.Equal(t, "v1", response.Artifact.Hash)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestDeriveTTLPrecedence(t *testing.T) {
	assert.Equal(t, int64(300), deriveTTL(&types.LookupResponse{
		TTLRemainingSeconds: 300,
		Artifact:            types.Artifact{TTLSeconds: 600},
	}))

	assert.Equal(t, int64(600), deriveTTL(&types.LookupResponse{
		Artifact: types.Artifact{TTLSeconds: 600},
	}))

	future := time.Now().Add(90 * time.Second)
	derived := deriveTTL(&types.LookupResponse{ExpiresAt: future})
	assert.InDelta(t, 90, derived, 5)

	assert.Equal(t, int64(0), deriveTTL(&types.LookupResponse{}))
}
