package batcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesBuffered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "batcher",
		Name:      "messages_buffered_total",
		Help:      "Messages absorbed into a per-device buffer.",
	})
	messagesPassedThrough = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "batcher",
			Name:      "messages_passed_through_total",
			Help:      "Messages republished without batching.",
		},
		[]string{"reason"},
	)
	framesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "batcher",
			Name:      "frames_emitted_total",
			Help:      "Batched frames emitted.",
		},
		[]string{"trigger"},
	)
	frameSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "batcher",
		Name:      "frame_messages",
		Help:      "Number of messages carried per emitted frame.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// RegisterMetrics registers the batcher collectors with the default registry.
// It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(messagesBuffered, messagesPassedThrough, framesEmitted, frameSize)
	})
}

func recordPassThrough(reason string) {
	messagesPassedThrough.WithLabelValues(reason).Inc()
}

func recordFrame(trigger string, size int) {
	framesEmitted.WithLabelValues(trigger).Inc()
	frameSize.Observe(float64(size))
}
