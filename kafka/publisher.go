// Package kafka publishes upserted trips to a Kafka topic as a change feed.
package kafka

import (
	"context"
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// tripEvent is the message value: the staged trip as JSON.
type tripEvent cabs.StagedTrip

// Encode implements sarama.Encoder.
func (e tripEvent) Encode() ([]byte, error) {
	return json.Marshal(cabs.StagedTrip(e))
}

// Length implements sarama.Encoder.
func (e tripEvent) Length() int {
	bytes, _ := e.Encode()
	return len(bytes)
}

// Publisher implements cabs.Publisher with a synchronous producer. Messages
// are keyed by business key so that every version of a trip lands on the same
// partition.
type Publisher struct {
	Hosts []string
	Topic string

	producer sarama.SyncProducer
	log      cabs.Logger
}

// PublisherOption is a functional option for Publisher.
type PublisherOption func(p *Publisher)

// OptPublisherLogger sets the Publisher's logger.
func OptPublisherLogger(l cabs.Logger) PublisherOption {
	return func(p *Publisher) {
		p.log = l
	}
}

// OptPublisherProducer uses an existing producer instead of dialing Hosts.
func OptPublisherProducer(sp sarama.SyncProducer) PublisherOption {
	return func(p *Publisher) {
		p.producer = sp
	}
}

// NewPublisher gets a new Publisher.
func NewPublisher(hosts []string, topic string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		Hosts: hosts,
		Topic: topic,
		log:   cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open connects the producer unless one was provided.
func (p *Publisher) Open() error {
	if p.producer != nil {
		return nil
	}
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	conf := sarama.NewConfig()
	conf.Version = sarama.V0_10_0_0
	conf.Producer.Return.Successes = true
	conf.Producer.RequiredAcks = sarama.WaitForAll
	producer, err := sarama.NewSyncProducer(p.Hosts, conf)
	if err != nil {
		return errors.Wrap(err, "getting new producer")
	}
	p.producer = producer
	return nil
}

// Publish implements cabs.Publisher. It stops at the first message that can
// not be sent.
func (p *Publisher) Publish(ctx context.Context, trips []cabs.StagedTrip) error {
	if err := p.Open(); err != nil {
		return err
	}
	for i := range trips {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: p.Topic,
			Key:   sarama.StringEncoder(trips[i].BusinessKey),
			Value: tripEvent(trips[i]),
		}
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			return errors.Wrapf(err, "sending trip %s (%d of %d)", trips[i].BusinessKey, i+1, len(trips))
		}
	}
	p.log.Debugf("published %d trips to %s", len(trips), p.Topic)
	return nil
}

// Close closes the underlying producer.
func (p *Publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return errors.Wrap(p.producer.Close(), "closing kafka producer")
}
