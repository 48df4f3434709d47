package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/models"
)

// GTFSRTSource reads vehicle positions from a GTFS-Realtime VehiclePositions feed.
// Pattern ids are not part of GTFS-RT, so positions from this source carry none.
type GTFSRTSource struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGTFSRTSource creates a source for the feed at url
func NewGTFSRTSource(url, apiKey string, logger *slog.Logger) *GTFSRTSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GTFSRTSource{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// GetVehicles downloads and decodes the feed
func (s *GTFSRTSource) GetVehicles(ctx context.Context) ([]models.VehiclePosition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.url, err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, s.logger, "gtfsrt_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d: %w", s.url, resp.StatusCode, ErrUnexpectedStatus)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return DecodeVehiclePositions(body)
}

// DecodeVehiclePositions converts a serialized FeedMessage into positions.
// Entities without a vehicle id or a position are skipped.
func DecodeVehiclePositions(data []byte) ([]models.VehiclePosition, error) {
	var feed gtfsrt.FeedMessage
	if err := proto.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("unmarshal FeedMessage: %w", err)
	}

	vehicles := make([]models.VehiclePosition, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		vp := entity.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		id := vp.GetVehicle().GetId()
		if id == "" {
			id = entity.GetId()
		}
		if id == "" {
			continue
		}

		pos := vp.GetPosition()
		v := models.VehiclePosition{
			ID:      id,
			Lat:     float64(pos.GetLatitude()),
			Lon:     float64(pos.GetLongitude()),
			Bearing: float64(pos.GetBearing()),
		}
		if vp.CurrentStopSequence != nil {
			seq := int(vp.GetCurrentStopSequence())
			v.CurrentStopSequence = &seq
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}
