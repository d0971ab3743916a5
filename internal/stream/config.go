package stream

import (
	"errors"

	"github.com/rootline-io/rootline/internal/config"
)

const (
	defaultBrokers       = "localhost:9092"
	defaultAlertTopic    = "rootline.alerts.v1"
	defaultIncidentTopic = "rootline.incidents.v1"
	defaultConsumerGroup = "rootline-engine"
)

var (
	// ErrNoBrokers is returned when Kafka is enabled without any broker address.
	ErrNoBrokers = errors.New("at least one Kafka broker is required")

	// ErrAlertTopicEmpty is returned when the alert topic name is empty.
	ErrAlertTopicEmpty = errors.New("alert topic cannot be empty")

	// ErrIncidentTopicEmpty is returned when the incident topic name is empty.
	ErrIncidentTopicEmpty = errors.New("incident topic cannot be empty")

	// ErrConsumerGroupEmpty is returned when the consumer group ID is empty.
	ErrConsumerGroupEmpty = errors.New("consumer group cannot be empty")
)

// Config holds the Kafka wiring for the alert feed and the incident stream.
//
// With Enabled false the service runs HTTP-only: no consumer starts and
// incident snapshots go to the log sink instead of a topic.
type Config struct {
	Enabled       bool
	Brokers       []string
	AlertTopic    string
	IncidentTopic string
	ConsumerGroup string
}

// LoadConfig loads stream configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Enabled:       config.GetEnvBool("ROOTLINE_KAFKA_ENABLED", false),
		Brokers:       config.ParseCommaSeparatedList(config.GetEnvStr("ROOTLINE_KAFKA_BROKERS", defaultBrokers)),
		AlertTopic:    config.GetEnvStr("ROOTLINE_KAFKA_ALERT_TOPIC", defaultAlertTopic),
		IncidentTopic: config.GetEnvStr("ROOTLINE_KAFKA_INCIDENT_TOPIC", defaultIncidentTopic),
		ConsumerGroup: config.GetEnvStr("ROOTLINE_KAFKA_CONSUMER_GROUP", defaultConsumerGroup),
	}
}

// Validate checks the stream configuration. A disabled stream is always
// valid; everything else is only checked when Kafka is in use.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	for _, broker := range c.Brokers {
		if broker == "" {
			return ErrNoBrokers
		}
	}

	if c.AlertTopic == "" {
		return ErrAlertTopicEmpty
	}

	if c.IncidentTopic == "" {
		return ErrIncidentTopicEmpty
	}

	if c.ConsumerGroup == "" {
		return ErrConsumerGroupEmpty
	}

	return nil
}
