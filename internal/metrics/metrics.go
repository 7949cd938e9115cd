// Package metrics holds the Prometheus collectors for the reminder
// scheduler. Collectors are registered on the default registry and exposed
// by the web server at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "evremind"

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome (evaluated, follower, lost_lock, error)",
		},
		[]string{"outcome"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of evaluated scheduler ticks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	remindersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "fired_total",
			Help:      "Reminders delivered, by lead time in minutes",
		},
		[]string{"lead"},
	)

	remindersSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "skipped_total",
			Help:      "Reminders that matched but were not delivered (quiet_hours, already_fired)",
		},
		[]string{"reason"},
	)

	firingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "failures_total",
			Help:      "Firing pipeline failures by stage (store, toast, chime)",
		},
		[]string{"stage"},
	)

	leaderGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "leader",
			Name:      "is_leader",
			Help:      "1 when this instance holds the scheduler lock",
		},
	)

	watchesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "watches",
			Name:      "active",
			Help:      "Active watches for the current owner",
		},
	)
)

func init() {
	prometheus.MustRegister(ticksTotal, tickDuration, remindersFired, remindersSkipped,
		firingFailures, leaderGauge, watchesGauge)
}

func Tick(outcome string) { ticksTotal.WithLabelValues(outcome).Inc() }

func TickDuration(d time.Duration) { tickDuration.Observe(d.Seconds()) }

func Fired(lead int) { remindersFired.WithLabelValues(itoa(lead)).Inc() }

func Skipped(reason string) { remindersSkipped.WithLabelValues(reason).Inc() }

func Failure(stage string) { firingFailures.WithLabelValues(stage).Inc() }

func SetLeader(on bool) {
	if on {
		leaderGauge.Set(1)
		return
	}
	leaderGauge.Set(0)
}

func SetWatches(n int) { watchesGauge.Set(float64(n)) }

// small non-negative ints only; lead times are minutes
func itoa(n int) string {
	if n <= 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 && i > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
