package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

// KafkaProducer publishes location samples and ride lifecycle events. The
// location topic feeds cmd/consumer; the events topic is for downstream
// audit and analytics.
type KafkaProducer struct {
	locations *kafka.Writer
	events    *kafka.Writer
}

func NewKafkaProducer(brokers []string, locationTopic, eventsTopic string) *KafkaProducer {
	k := &KafkaProducer{
		locations: &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: locationTopic, Balancer: &kafka.LeastBytes{}},
	}
	if eventsTopic != "" {
		// keyed by ride so one ride's events stay ordered on a partition
		k.events = &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: eventsTopic, Balancer: &kafka.Hash{}}
	}
	return k
}

// PublishLocation is keyed by the reporting user.
func (k *KafkaProducer) PublishLocation(ctx context.Context, s models.LocationSample) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return k.locations.WriteMessages(ctx, kafka.Message{Key: []byte(s.UserID), Value: b})
}

func (k *KafkaProducer) PublishRideEvent(ctx context.Context, e models.RideEvent) error {
	if k.events == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.events.WriteMessages(ctx, kafka.Message{Key: []byte(e.RideID), Value: b})
}

func (k *KafkaProducer) Close() error {
	var err error
	if k.locations != nil {
		err = k.locations.Close()
	}
	if k.events != nil {
		if cerr := k.events.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
