// Package telemetry builds the go-metrics instance shared by the service.
package telemetry

import (
	"time"

	metrics "github.com/hashicorp/go-metrics"
)

const (
	inmemInterval = 10 * time.Second
	inmemRetain   = time.Minute
)

// New returns metrics backed by an in-memory sink that the admin endpoint
// can dump.
func New(serviceName string) (*metrics.Metrics, *metrics.InmemSink, error) {
	sink := metrics.NewInmemSink(inmemInterval, inmemRetain)

	m, err := metrics.New(config(serviceName), sink)
	if err != nil {
		return nil, nil, err
	}

	return m, sink, nil
}

// Discard returns metrics that drop every sample.
func Discard() *metrics.Metrics {
	m, _ := metrics.New(config("discard"), &metrics.BlackholeSink{})
	return m
}

func config(serviceName string) *metrics.Config {
	conf := metrics.DefaultConfig(serviceName)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	return conf
}

// CounterTotal sums the counter named name across every retained interval,
// ignoring labels.
func CounterTotal(sink *metrics.InmemSink, name string) float64 {
	var total float64
	for _, intv := range sink.Data() {
		intv.RLock()
		for _, c := range intv.Counters {
			if c.Name == name && c.AggregateSample != nil {
				total += c.Sum
			}
		}
		intv.RUnlock()
	}
	return total
}
