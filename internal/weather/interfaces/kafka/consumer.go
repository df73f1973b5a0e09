package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"debrisflow-monitor/internal/observability/metrics"
	"debrisflow-monitor/internal/weather/application"
	weather "debrisflow-monitor/internal/weather/domain"
)

// Consumer feeds station observations from a Kafka topic into the ingest
// service. Out-of-order and duplicate records are acknowledged and dropped so
// the partition keeps moving.
type Consumer struct {
	reader  *kafkago.Reader
	service *application.Service
	logger  *log.Logger
}

// NewConsumer constructs a consumer in the given consumer group.
func NewConsumer(brokers []string, topic, groupID string, service *application.Service, logger *log.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("weather kafka: no brokers")
	}
	if topic == "" {
		return nil, errors.New("weather kafka: empty topic")
	}
	if service == nil {
		return nil, errors.New("weather kafka: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, service: service, logger: logger}, nil
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil || c.reader == nil {
		return errors.New("weather kafka: nil consumer")
	}
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.handle(ctx, msg)
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func (c *Consumer) handle(ctx context.Context, msg kafkago.Message) {
	var record stationRecord
	if err := json.Unmarshal(msg.Value, &record); err != nil {
		c.logger.Printf("weather kafka: decode error: topic=%s offset=%d err=%v", msg.Topic, msg.Offset, err)
		return
	}
	obs, err := record.toObservation()
	if err != nil {
		c.logger.Printf("weather kafka: invalid record: offset=%d err=%v", msg.Offset, err)
		return
	}
	metrics.SetConsumerLag("weather_kafka", time.Since(msg.Time).Seconds())

	if err := c.service.Ingest(ctx, obs); err != nil {
		switch {
		case errors.Is(err, weather.ErrOutOfOrder), errors.Is(err, weather.ErrDuplicateTimestamp):
			// Replayed or reordered record, already covered by a newer one.
		default:
			c.logger.Printf("weather kafka: ingest error: location=%s err=%v", obs.LocationID, err)
		}
	}
}

type stationRecord struct {
	LocationID string   `json:"location_id"`
	Lon        float64  `json:"lon"`
	Lat        float64  `json:"lat"`
	TS         int64    `json:"ts"`
	Rainfall   *float64 `json:"rainfall_mm"`
	Intensity  float64  `json:"intensity_mm_hr"`
	Temp       *float64 `json:"temperature_c"`
	Humidity   *float64 `json:"humidity_pct"`
	WindSpeed  *float64 `json:"wind_speed_ms"`
	Source     string   `json:"source"`
}

func (r stationRecord) toObservation() (weather.Observation, error) {
	if r.LocationID == "" {
		return weather.Observation{}, weather.ErrMissingLocation
	}
	if r.TS <= 0 {
		return weather.Observation{}, errors.New("invalid ts")
	}
	if r.Rainfall == nil {
		return weather.Observation{}, errors.New("missing rainfall_mm")
	}
	ts := time.Unix(r.TS, 0).UTC()
	if r.TS > 1_000_000_000_000 {
		ts = time.UnixMilli(r.TS).UTC()
	}
	source := r.Source
	if source == "" {
		source = "kafka"
	}
	return weather.Observation{
		LocationID:    r.LocationID,
		Lon:           r.Lon,
		Lat:           r.Lat,
		Timestamp:     ts,
		RainfallMM:    *r.Rainfall,
		IntensityMMHr: r.Intensity,
		TemperatureC:  r.Temp,
		HumidityPct:   r.Humidity,
		WindSpeedMS:   r.WindSpeed,
		Source:        source,
	}, nil
}
