// Package statsd wraps the few statsd calls the sync loop makes. It hides the datadog dependency
// so that replacing it only touches this file.
package statsd

import (
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

// Metric names, prefixed with the namespace by the client.
const (
	MetricTick             = "tick"
	MetricQueueDepth       = "queue_depth"
	MetricSkipBudget       = "skip_budget"
	MetricSnapshotsApplied = "snapshots_applied"
	MetricCatchupDrains    = "catchup_drains"
	MetricEntities         = "entities"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{} //nolint:gochecknoglobals // process wide client

func Client() ddstatsd.ClientInterface {
	return client
}

// EmitTickStat records the duration of one loop tick tagged with the branch it took.
func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	if err := Client().Timing(MetricTick, duration, []string{"stage:" + stage}, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

func Gauge(name string, value float64) {
	if err := Client().Gauge(name, value, nil, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit gauge %s: %v", name, err)
	}
}

func Count(name string, value int64) {
	if value == 0 {
		return
	}
	if err := Client().Count(name, value, nil, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit count %s: %v", name, err)
	}
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("worldsync"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "failed to create statsd client")
	}
	client = newClient
	return nil
}

// Close flushes the client and restores the no-op client.
func Close() error {
	prev := client
	client = &ddstatsd.NoOpClient{}
	if err := prev.Close(); err != nil {
		return eris.Wrap(err, "failed to close statsd client")
	}
	return nil
}
