package shredder

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesShredded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "shredder",
		Name:      "frames_shredded_total",
		Help:      "Batched frames expanded into their messages.",
	})
	messagesRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "shredder",
		Name:      "messages_recovered_total",
		Help:      "Messages recovered from batched frames.",
	})
	messagesPassedThrough = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "shredder",
		Name:      "messages_passed_through_total",
		Help:      "Messages republished unchanged because they were not batched frames.",
	})
	decodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "shredder",
		Name:      "decode_errors_total",
		Help:      "Frames flagged as batched whose content could not be parsed.",
	})
)

// RegisterMetrics registers the shredder collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesShredded, messagesRecovered, messagesPassedThrough, decodeErrors)
	})
}

func recordShredded(count int) {
	framesShredded.Inc()
	messagesRecovered.Add(float64(count))
}

func recordPassThrough() { messagesPassedThrough.Inc() }

func recordDecodeError() { decodeErrors.Inc() }
