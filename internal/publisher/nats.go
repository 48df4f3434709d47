// Package publisher pushes cycle results to NATS subscribers
package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jusunglee/busboard/internal/arrivals"
	"github.com/jusunglee/busboard/internal/logging"
	"github.com/jusunglee/busboard/internal/models"
)

// PublisherMetrics receives publish measurements
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher is a rendering surface that publishes every cycle to
// <prefix>.<stop> and failures to <prefix>.<stop>.error
type NATSPublisher struct {
	nc      *nats.Conn
	conn    conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// ArrivalsMessage is the payload of a completed cycle
type ArrivalsMessage struct {
	Stop           models.StopHeader       `json:"stop"`
	Arrivals       []models.DisplayArrival `json:"arrivals"`
	ActiveLines    []string                `json:"activeLines"`
	AllFilteredOut bool                    `json:"allFilteredOut"`
	Timestamp      time.Time               `json:"timestamp"`
}

// ErrorMessage is the payload of a failed cycle
type ErrorMessage struct {
	StopID    string    `json:"stopId"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewNATSPublisher connects to url
func NewNATSPublisher(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats_publisher"))

	nc, err := nats.Connect(url,
		nats.Name("busboard"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logging.LogError(logger, "nats disconnected", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}

	p := newPublisher(nc, prefix, m, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = "busboard"
	}
	return &NATSPublisher{
		conn:    c,
		prefix:  prefix,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Close drains and closes the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			logging.LogError(p.logger, "nats drain failed", err)
		}
		p.nc.Close()
	}
}

// OnLoadingStart has nothing to publish; subscribers see the next result
func (p *NATSPublisher) OnLoadingStart() {}

// OnCycleComplete publishes the filtered arrivals for the stop
func (p *NATSPublisher) OnCycleComplete(list []models.DisplayArrival, activeLines []string, header models.StopHeader) {
	active := make(map[string]bool, len(activeLines))
	for _, line := range activeLines {
		active[line] = true
	}
	shown, allFilteredOut := arrivals.Filter(list, active)

	p.publish(p.subject(header.ID), ArrivalsMessage{
		Stop:           header,
		Arrivals:       shown,
		ActiveLines:    activeLines,
		AllFilteredOut: allFilteredOut,
		Timestamp:      p.now(),
	})
}

// OnCycleError publishes message on the failing stop's error subject
func (p *NATSPublisher) OnCycleError(stopID, message string) {
	p.publish(p.subject(stopID)+".error", ErrorMessage{
		StopID:    stopID,
		Error:     message,
		Timestamp: p.now(),
	})
}

func (p *NATSPublisher) subject(stopID string) string {
	return fmt.Sprintf("%s.%s", p.prefix, subjectToken(stopID))
}

func (p *NATSPublisher) publish(subject string, msg interface{}) {
	b, err := json.Marshal(msg)
	if err != nil {
		logging.LogError(p.logger, "encoding nats message", err, slog.String("subject", subject))
		return
	}

	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		logging.LogError(p.logger, "nats publish failed", err, slog.String("subject", subject))
		return
	}
	p.logger.Debug("nats publish", slog.String("subject", subject))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
