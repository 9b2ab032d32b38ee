package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MinaFoundation/uptime-service-validation/internal/store"
	validationtesting "github.com/MinaFoundation/uptime-service-validation/utils/pkg/testing"
)

type fakeStore struct {
	pingErr    error
	scoreboard []store.ScoreboardRow
	registry   []string
	epochs     map[string][]store.EpochStatusRow
	runs       map[uint64]store.ValidationRun
	checkpoint *store.Checkpoint
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) HasProducer(_ context.Context, key string) (bool, error) {
	for _, k := range f.registry {
		if k == key {
			return true, nil
		}
	}
	_, ok := f.epochs[key]
	return ok, nil
}

func (f *fakeStore) ScoreboardRows(context.Context) ([]store.ScoreboardRow, error) {
	return f.scoreboard, nil
}

func (f *fakeStore) ProducerEpochs(_ context.Context, producer string, _ int) ([]store.EpochStatusRow, error) {
	return f.epochs[producer], nil
}

func (f *fakeStore) LatestRun(_ context.Context, epoch uint64) (store.ValidationRun, bool, error) {
	run, ok := f.runs[epoch]
	return run, ok, nil
}

func (f *fakeStore) Checkpoint(context.Context) (store.Checkpoint, bool, error) {
	if f.checkpoint == nil {
		return store.Checkpoint{}, false, nil
	}
	return *f.checkpoint, true, nil
}

func newTestServer(t *testing.T, st Store) *Server {
	t.Helper()
	s, err := New(Config{
		Logger:  validationtesting.NewLogger(),
		Store:   st,
		Version: "1.2.3",
		Commit:  "abc123",
		Date:    "2024-03-01",
	})
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestValidation_Server_Probes(t *testing.T) {
	t.Parallel()

	t.Run("healthz is always ok", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{pingErr: errors.New("db down")})
		rec := get(t, s, "/healthz")
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz reflects database reachability", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{})
		require.Equal(t, http.StatusOK, get(t, s, "/readyz").Code)

		s = newTestServer(t, &fakeStore{pingErr: errors.New("db down")})
		require.Equal(t, http.StatusServiceUnavailable, get(t, s, "/readyz").Code)
	})

	t.Run("version reports build metadata", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{})
		rec := get(t, s, "/version")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "1.2.3", body["version"])
		require.Equal(t, "abc123", body["commit"])
	})
}

func TestValidation_Server_Scoreboard(t *testing.T) {
	t.Parallel()

	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &fakeStore{
		scoreboard: []store.ScoreboardRow{
			{ProducerKey: "B62qalpha", Score: 100, Percentile: 100, LastUpdated: updated},
			{ProducerKey: "B62qbeta", Score: 80, Percentile: 50, LastUpdated: updated},
		},
	}

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		rec := get(t, s, "/scoreboard")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var rows []store.ScoreboardRow
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 2)
		require.Equal(t, "B62qalpha", rows[0].ProducerKey)
	})

	t.Run("empty scoreboard is an empty array", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{})
		rec := get(t, s, "/scoreboard")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("csv", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		rec := get(t, s, "/scoreboard.csv")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		require.Len(t, lines, 3)
		require.Equal(t, "producer_key,score,percentile,last_updated", lines[0])
		require.Contains(t, lines[1], "B62qalpha")
	})
}

func TestValidation_Server_ProducerEpochs(t *testing.T) {
	t.Parallel()

	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	st := &fakeStore{
		epochs: map[string][]store.EpochStatusRow{
			"B62qalpha": {
				{Epoch: 5, Required: 950_000_000_000, Credited: 950_000_000_000, Deadline: deadline},
				{Epoch: 4, Required: 500_000_000_000, Credited: 0, Deadline: deadline},
			},
		},
	}

	t.Run("known producer", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		rec := get(t, s, "/producers/B62qalpha/epochs")
		require.Equal(t, http.StatusOK, rec.Code)

		var rows []store.EpochStatusRow
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
		require.Len(t, rows, 2)
		require.Equal(t, uint64(5), rows[0].Epoch)
	})

	t.Run("unknown producer is 404", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		require.Equal(t, http.StatusNotFound, get(t, s, "/producers/B62qunknown/epochs").Code)
	})

	t.Run("registered producer without history is an empty list", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{registry: []string{"B62qfresh"}})
		rec := get(t, s, "/producers/B62qfresh/epochs")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	})

	t.Run("invalid limit is 400", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		require.Equal(t, http.StatusBadRequest, get(t, s, "/producers/B62qalpha/epochs?limit=zero").Code)
		require.Equal(t, http.StatusBadRequest, get(t, s, "/producers/B62qalpha/epochs?limit=-1").Code)
	})
}

func TestValidation_Server_EpochRun(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(3 * time.Minute)
	st := &fakeStore{
		runs: map[uint64]store.ValidationRun{
			5: {ID: 42, Epoch: 5, State: store.RunStateComplete, Outcome: store.RunStateComplete, StartedAt: started, CompletedAt: &completed},
			6: {ID: 43, Epoch: 6, State: store.RunStateFailed, Outcome: "archive unreachable", StartedAt: started},
		},
	}

	t.Run("complete run", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		rec := get(t, s, "/epochs/5/run")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, store.RunStateComplete, body["state"])
		require.Equal(t, float64(42), body["runId"])
		require.NotContains(t, body, "reason")
	})

	t.Run("failed run carries a reason", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		rec := get(t, s, "/epochs/6/run")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "archive unreachable", body["reason"])
	})

	t.Run("missing run is 404", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		require.Equal(t, http.StatusNotFound, get(t, s, "/epochs/7/run").Code)
	})

	t.Run("bad epoch is 400", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, st)
		require.Equal(t, http.StatusBadRequest, get(t, s, "/epochs/five/run").Code)
	})
}

func TestValidation_Server_Schedule(t *testing.T) {
	t.Parallel()

	t.Run("seeded checkpoint", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{checkpoint: &store.Checkpoint{
			NextEpoch: 9,
			DueAt:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}})
		rec := get(t, s, "/schedule")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, float64(9), body["nextEpoch"])
		require.Equal(t, "2024-05-01T00:00:00Z", body["dueAt"])
	})

	t.Run("unseeded checkpoint is 404", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakeStore{})
		require.Equal(t, http.StatusNotFound, get(t, s, "/schedule").Code)
	})
}
