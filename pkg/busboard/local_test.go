package busboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/metrics"
	"github.com/jusunglee/busboard/internal/models"
	"github.com/jusunglee/busboard/internal/upstream"
)

func clockIn(d time.Duration) string {
	return time.Now().Add(d).Format("15:04:05")
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	r.HandleFunc("/stops/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch mux.Vars(r)["id"] {
		case "A":
			_, _ = w.Write([]byte(`{"name":"Praza de España","locality":"Vigo"}`))
		case "B":
			_, _ = w.Write([]byte(`{"name":"Praza de España 2"}`))
		default:
			http.NotFound(w, r)
		}
	})
	r.HandleFunc("/stops/{id}/realtime", func(w http.ResponseWriter, r *http.Request) {
		switch mux.Vars(r)["id"] {
		case "A":
			fmt.Fprintf(w, `[{"line_id":"C1","headsign":"Centro","estimated_arrival":%q,"vehicle_id":"3102"}]`, clockIn(3*time.Minute))
		case "B":
			fmt.Fprintf(w, `[{"line_id":"4A","headsign":"Coia","scheduled_arrival":%q}]`, clockIn(6*time.Minute))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	r.HandleFunc("/vehicles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"VIT_3102","lat":42.2281,"lon":-8.7199,"pattern_id":"P1","current_stop_sequence":1}]`))
	})
	r.HandleFunc("/patterns/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"shape_id":"S1","path":[{"stop_id":"X","stop_sequence":1},{"stop_id":"A","stop_sequence":2}]}`))
	})
	r.HandleFunc("/shapes/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"points":[{"lat":42.1,"lon":-8.1}]}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) Config {
	t.Helper()
	dir := t.TempDir()

	groups := filepath.Join(dir, "stop_groups.yml")
	require.NoError(t, os.WriteFile(groups, []byte("groups:\n  - key: A\n    members: [B]\n"), 0o644))

	stops := filepath.Join(dir, "stops.json")
	require.NoError(t, os.WriteFile(stops, []byte(`[
	 {"stop_id":"A","name":"Praza de España","lat":42.2285,"lon":-8.7203,"locality":"Vigo","lines":["C1","L9"]},
	 {"stop_id":"B","name":"Praza de España 2","lat":42.2287,"lon":-8.7205,"locality":"Vigo"},
	 {"stop_id":"Z","name":"Far away","lat":43.0,"lon":-8.0,"locality":"Lugo"}
	]`), 0o644))

	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.DefaultStop = "A"
	cfg.Interval = time.Hour
	cfg.LiveInterval = time.Hour
	cfg.StopGroupsFile = groups
	cfg.StopsFile = filepath.Join(dir, "missing_lite.json")
	cfg.LegacyStopsFile = stops
	return cfg
}

func newTestClient(t *testing.T, opts ...Option) *LocalClient {
	t.Helper()
	srv := newUpstream(t)

	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	client, err := NewLocal(context.Background(), testConfig(t, srv.URL), opts...)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNewLocalRunsFirstCycle(t *testing.T) {
	collector := metrics.NewCollector()
	client := newTestClient(t, WithMetrics(collector))

	board := client.Board()
	assert.Equal(t, models.StatusOK, board.Status)
	require.NotNil(t, board.Stop)
	assert.Equal(t, "Praza de España", board.Stop.Name)
	assert.Equal(t, []string{"A", "B"}, board.Stop.Members)

	require.Len(t, board.Arrivals, 2)
	assert.Equal(t, "C1", board.Arrivals[0].LineID)
	assert.True(t, board.Arrivals[0].Live)
	assert.InDelta(t, 2, board.Arrivals[0].Minutes, 1)
	assert.Equal(t, "4A", board.Arrivals[1].LineID)
	assert.False(t, board.Arrivals[1].Live)

	assert.Equal(t, []string{"4A", "C1", "L9"}, board.AvailableLines)
	assert.False(t, client.GetLastUpdate().IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.Cycles.WithLabelValues("ok")))
}

func TestBoardFilters(t *testing.T) {
	client := newTestClient(t)

	client.ToggleLine("C1")
	board := client.Board()
	assert.Equal(t, []string{"C1"}, board.ActiveLines)
	require.Len(t, board.Arrivals, 1)
	assert.Equal(t, 2, board.Total)

	client.ToggleLine("C1")
	board = client.Board()
	assert.Empty(t, board.Arrivals)
	assert.True(t, board.AllFilteredOut)

	client.ResetLines()
	assert.Len(t, client.Board().Arrivals, 2)
}

func TestLiveVehicleStopsAway(t *testing.T) {
	client := newTestClient(t)

	client.OpenLiveView("3102", "")
	live, err := client.LiveVehicle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "VIT_3102", live.Vehicle.ID)
	assert.Equal(t, "S1", live.ShapeID)
	require.NotNil(t, live.StopsAway)
	assert.Equal(t, 1, *live.StopsAway)
	assert.Equal(t, "3102", client.Board().LiveVehicleID)

	shape, err := client.Shape(context.Background(), "S1")
	require.NoError(t, err)
	assert.Len(t, shape.Points, 1)
	assert.Len(t, client.Vehicles(context.Background()), 1)
}

func TestSelectMissingStop(t *testing.T) {
	client := newTestClient(t)

	err := client.SelectStop(context.Background(), "nowhere")
	assert.ErrorIs(t, err, upstream.ErrStopNotFound)

	board := client.Board()
	assert.Equal(t, models.StatusError, board.Status)
	assert.Equal(t, "stop not found", board.Error)
}

func TestStaticData(t *testing.T) {
	client := newTestClient(t)

	assert.Len(t, client.Stops(), 3)
	nearby := client.NearbyStops(42.2285, -8.7203, 2)
	require.Len(t, nearby, 2)
	assert.Equal(t, "A", nearby[0].ID)

	groups := client.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"A", "B"}, groups[0].Members)
}

func TestRolloverTakenAsConfigured(t *testing.T) {
	assert.Equal(t, arrivals.DefaultRollover(), DefaultConfig().rollover())

	cfg := DefaultConfig()
	cfg.RolloverLateHour = 0
	cfg.RolloverEarlyHour = 0
	assert.Equal(t, arrivals.RolloverPolicy{}, cfg.rollover(), "a zero policy is kept, not replaced by the default")
}

func TestBoardUsesOneSnapshot(t *testing.T) {
	client := newTestClient(t)

	// the filter moves to another stop while the store still holds A's cycle
	client.filter.Reconcile("elsewhere", []string{"7"}, nil)
	board := client.Board()
	assert.ElementsMatch(t, []string{"4A", "C1", "L9"}, board.ActiveLines)
	assert.Len(t, board.Arrivals, 2)
	assert.False(t, board.AllFilteredOut)
}

func TestBoardAfterFailedStopChange(t *testing.T) {
	client := newTestClient(t)

	require.Error(t, client.SelectStop(context.Background(), "nowhere"))
	board := client.Board()
	assert.Nil(t, board.Stop)
	assert.Empty(t, board.Arrivals)
	assert.Empty(t, board.AvailableLines)
	assert.Zero(t, board.Total)
}

func TestNewLocalBadGroupsFile(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	require.NoError(t, os.WriteFile(cfg.StopGroupsFile, []byte("groups:\n  - key: A\n    members: []\n"), 0o644))

	_, err := NewLocal(context.Background(), cfg)
	assert.Error(t, err)
}
