package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	r := mux.NewRouter()
	r.HandleFunc("/stops/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "missing" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"name":"Praza de España","municipality_name":"Vigo"}`))
	})
	r.HandleFunc("/stops/{id}/realtime", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"line_id":"205","headsign":"Centro","estimated_arrival":"08:32:00","vehicle_id":"3102"},
			{"line_id":"744","headsign":"Bouzas","scheduled_arrival":"08:40:00"}]`))
	})
	r.HandleFunc("/vehicles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"3102","lat":42.23,"lon":-8.72,"bearing":180,"pattern_id":"P1","current_stop_sequence":4}]`))
	})
	r.HandleFunc("/patterns/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"shape_id":"S1","path":[{"stop_id":"A","stop_sequence":1},{"stop_id":"B","stop_sequence":2}]}`))
	})
	r.HandleFunc("/shapes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] == "gone" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"points":[{"lat":42.1,"lon":-8.1},{"lat":42.2,"lon":-8.2}]}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetStop(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL+"/", WithAPIKey("secret"))

	info, err := c.GetStop(context.Background(), "14264")
	require.NoError(t, err)
	assert.Equal(t, "Praza de España", info.Name)
	assert.Equal(t, "Vigo", info.DisplayLocality())

	_, err = c.GetStop(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStopNotFound)
}

func TestGetRealtime(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)

	records, err := c.GetRealtime(context.Background(), "14264")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "205", records[0].LineID)
	require.NotNil(t, records[0].EstimatedArrival)
	assert.Equal(t, "08:32:00", *records[0].EstimatedArrival)
	assert.Nil(t, records[0].ScheduledArrival)
	assert.Nil(t, records[1].EstimatedArrival)

	_, err = c.GetRealtime(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestGetRealtimeConnectionError(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	srv.Close()

	_, err := c.GetRealtime(context.Background(), "14264")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, WithRateLimit(0.001, 1))

	_, err := c.GetVehicles(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetVehicles(ctx)
	assert.Error(t, err, "the second request would exceed the limit before the deadline")
}

func TestGetVehiclesPatternsShapes(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	vehicles, err := c.GetVehicles(ctx)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "3102", vehicles[0].ID)
	require.NotNil(t, vehicles[0].PatternID)
	assert.Equal(t, "P1", *vehicles[0].PatternID)
	require.NotNil(t, vehicles[0].CurrentStopSequence)
	assert.Equal(t, 4, *vehicles[0].CurrentStopSequence)

	pattern, err := c.GetPattern(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "P1", pattern.ID)
	require.NotNil(t, pattern.ShapeID)
	assert.Equal(t, "S1", *pattern.ShapeID)
	assert.Len(t, pattern.Path, 2)

	shape, err := c.GetShape(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", shape.ID)
	assert.Len(t, shape.Points, 2)

	_, err = c.GetShape(ctx, "gone")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDecodeVehiclePositions(t *testing.T) {
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("V1")},
					Position: &gtfsrt.Position{
						Latitude:  proto.Float32(42.25),
						Longitude: proto.Float32(-8.75),
						Bearing:   proto.Float32(90),
					},
					CurrentStopSequence: proto.Uint32(7),
				},
			},
			{
				Id: proto.String("e2"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("V2")},
				},
			},
			{
				Id: proto.String("e3"),
				Vehicle: &gtfsrt.VehiclePosition{
					Position: &gtfsrt.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(2)},
				},
			},
		},
	}
	data, err := proto.Marshal(feed)
	require.NoError(t, err)

	vehicles, err := DecodeVehiclePositions(data)
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	assert.Equal(t, "V1", vehicles[0].ID)
	assert.InDelta(t, 42.25, vehicles[0].Lat, 1e-4)
	assert.InDelta(t, -8.75, vehicles[0].Lon, 1e-4)
	assert.InDelta(t, 90, vehicles[0].Bearing, 1e-4)
	require.NotNil(t, vehicles[0].CurrentStopSequence)
	assert.Equal(t, 7, *vehicles[0].CurrentStopSequence)
	assert.Nil(t, vehicles[0].PatternID)

	// no vehicle descriptor: the entity id stands in
	assert.Equal(t, "e3", vehicles[1].ID)

	_, err = DecodeVehiclePositions([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestGTFSRTSource(t *testing.T) {
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{{
			Id: proto.String("e1"),
			Vehicle: &gtfsrt.VehiclePosition{
				Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String("V1")},
				Position: &gtfsrt.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(2)},
			},
		}},
	}
	data, err := proto.Marshal(feed)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	vehicles, err := NewGTFSRTSource(srv.URL+"/vp", "", nil).GetVehicles(context.Background())
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, "V1", vehicles[0].ID)

	_, err = NewGTFSRTSource(srv.URL+"/down", "", nil).GetVehicles(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}
