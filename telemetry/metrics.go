package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/invoiceflow/invoiceflow"

var (
	counters   sync.Map // name -> metric.Int64Counter
	histograms sync.Map // name -> metric.Float64Histogram
)

// Counter increments a counter metric by 1.
// Labels are key-value pairs: Counter("stage.completed", "stage", "INTAKE").
func Counter(name string, labels ...string) {
	c := counterFor(name)
	if c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrsFromPairs(labels)...))
}

// Histogram records a value in a distribution.
func Histogram(name string, value float64, labels ...string) {
	h := histogramFor(name)
	if h == nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(attrsFromPairs(labels)...))
}

// Duration records elapsed time since startTime in milliseconds.
//
//	start := time.Now()
//	defer telemetry.Duration("stage.duration_ms", start, "stage", "INTAKE")
func Duration(name string, startTime time.Time, labels ...string) {
	Histogram(name, float64(time.Since(startTime).Milliseconds()), labels...)
}

func counterFor(name string) metric.Int64Counter {
	if v, ok := counters.Load(name); ok {
		return v.(metric.Int64Counter)
	}
	c, err := otel.Meter(instrumentationName).Int64Counter(name)
	if err != nil {
		return nil
	}
	actual, _ := counters.LoadOrStore(name, c)
	return actual.(metric.Int64Counter)
}

func histogramFor(name string) metric.Float64Histogram {
	if v, ok := histograms.Load(name); ok {
		return v.(metric.Float64Histogram)
	}
	h, err := otel.Meter(instrumentationName).Float64Histogram(name)
	if err != nil {
		return nil
	}
	actual, _ := histograms.LoadOrStore(name, h)
	return actual.(metric.Float64Histogram)
}

func attrsFromPairs(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
