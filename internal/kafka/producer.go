package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"arcade-presence/internal/config"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
)

// Producer publishes presence domain events. Downstream consumers (push
// notification fan-out, ranking refresh) are separate services; nothing in
// this process reads these topics back.
type Producer struct {
	Writer *kafka.Writer
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// Publish writes one message synchronously.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(), kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// PublishDetached fires the publish on its own goroutine. Errors are logged
// and never reach the triggering request; delivery is best effort.
func (p *Producer) PublishDetached(topic, key string, value []byte) {
	go func() {
		if err := p.Publish(topic, key, value); err != nil {
			p.Logger.Error("KAFKA", fmt.Sprintf("detached publish to %s failed: %v", topic, err))
			return
		}
		p.Logger.LogKafka("PUBLISH", topic, "key="+key)
	}()
}

// PublishCheckedIn emits a check-in event keyed by venue so per-venue
// consumers see them in order.
func (p *Producer) PublishCheckedIn(rec models.PresenceRecord) {
	value, err := json.Marshal(rec)
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("marshal check-in event: %v", err))
		return
	}
	p.PublishDetached(p.Topics.CheckedIn, rec.VenueKey.String(), value)
}

// PublishArchived emits an archive event once a presence instance ends.
func (p *Producer) PublishArchived(rec models.ArchiveRecord) {
	value, err := json.Marshal(rec)
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("marshal archive event: %v", err))
		return
	}
	p.PublishDetached(p.Topics.Archived, rec.VenueKeyOf().String(), value)
}

// PublishReport emits a report-submitted event.
func (p *Producer) PublishReport(rec models.ReportRecord) {
	value, err := json.Marshal(rec)
	if err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("marshal report event: %v", err))
		return
	}
	p.PublishDetached(p.Topics.ReportSubmitted, rec.VenueKey.String(), value)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
