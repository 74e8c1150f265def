// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const subsystem = "pirage"

// Registry holds every pirage collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Count of controller events by kind.",
		},
		[]string{"kind"},
	)
	relayToggles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "relay_toggles_total",
			Help:      "Count of relay button presses.",
		},
	)
	sensorReadErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "sensor_read_errors_total",
			Help:      "Count of failed GPIO sensor reads.",
		},
	)
	doorOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "door_open",
			Help:      "1 if the garage door is open.",
		},
	)
	motionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "motion_active",
			Help:      "1 if the PIR sensor reports motion.",
		},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "stream_subscribers",
			Help:      "Number of connected status stream subscribers.",
		},
	)
	fanoutDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "stream_dropped_total",
			Help:      "Count of status packets dropped for slow subscribers.",
		},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "notify_sink_errors_total",
			Help:      "Count of notification sink failures by sink.",
		},
		[]string{"sink"},
	)
	mqttBuffered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "mqtt_buffered_messages",
			Help:      "Messages held while the MQTT broker is unreachable.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics.
func Register() {
	registerMetrics.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		Registry.MustRegister(eventsTotal)
		Registry.MustRegister(relayToggles)
		Registry.MustRegister(sensorReadErrors)
		Registry.MustRegister(doorOpen)
		Registry.MustRegister(motionActive)
		Registry.MustRegister(subscribers)
		Registry.MustRegister(fanoutDrops)
		Registry.MustRegister(sinkErrors)
		Registry.MustRegister(mqttBuffered)
	})
}

// RecordEvent counts a controller event.
func RecordEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

// RecordRelayToggle counts a relay press.
func RecordRelayToggle() {
	relayToggles.Inc()
}

// RecordSensorReadError counts a failed sensor read.
func RecordSensorReadError() {
	sensorReadErrors.Inc()
}

// SetSensorState records the last sensor snapshot.
func SetSensorState(open, motion bool) {
	doorOpen.Set(boolToFloat(open))
	motionActive.Set(boolToFloat(motion))
}

// SetSubscribers records the number of stream subscribers.
func SetSubscribers(n int) {
	subscribers.Set(float64(n))
}

// RecordFanoutDrop counts a packet dropped for a full subscriber.
func RecordFanoutDrop() {
	fanoutDrops.Inc()
}

// RecordSinkError counts a failed notification delivery.
func RecordSinkError(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}

// SetMQTTBuffered records the MQTT offline buffer depth.
func SetMQTTBuffered(n int) {
	mqttBuffered.Set(float64(n))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
