// Package metrics exposes Prometheus counters for tracking sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "squat"

// Recorder holds session counters on its own registry, so several recorders never collide.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry         *prometheus.Registry
	framesObserved   *prometheus.CounterVec
	repetitions      *prometheus.CounterVec
	visibilityErrors *prometheus.CounterVec
	workoutsSaved    prometheus.Counter
	mints            *prometheus.CounterVec
}

// NewRecorder creates recorder and registers its collectors.
func NewRecorder() *Recorder {
	rec := &Recorder{
		registry: prometheus.NewRegistry(),
		framesObserved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_observed_total",
			Help:      "Keypoint frames evaluated by the repetition detector.",
		}, []string{"mode"}),
		repetitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repetitions_total",
			Help:      "Completed repetitions.",
		}, []string{"mode"}),
		visibilityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visibility_errors_total",
			Help:      "Frames rejected because required landmarks were missing or degenerate.",
		}, []string{"kind"}),
		workoutsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workouts_saved_total",
			Help:      "Workout records persisted.",
		}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mints_total",
			Help:      "Token mint attempts by result.",
		}, []string{"result"}),
	}

	rec.registry.MustRegister(rec.framesObserved, rec.repetitions, rec.visibilityErrors, rec.workoutsSaved, rec.mints)

	return rec
}

// FrameObserved counts one evaluated frame.
func (rec *Recorder) FrameObserved(mode string) {
	if rec == nil {
		return
	}
	rec.framesObserved.WithLabelValues(mode).Inc()
}

// Repetition counts one completed repetition.
func (rec *Recorder) Repetition(mode string) {
	if rec == nil {
		return
	}
	rec.repetitions.WithLabelValues(mode).Inc()
}

// VisibilityError counts one rejected frame.
func (rec *Recorder) VisibilityError(kind string) {
	if rec == nil {
		return
	}
	rec.visibilityErrors.WithLabelValues(kind).Inc()
}

// WorkoutSaved counts one persisted workout.
func (rec *Recorder) WorkoutSaved() {
	if rec == nil {
		return
	}
	rec.workoutsSaved.Inc()
}

// Mint counts one mint attempt. result is "ok", "failed" (minter error) or "rejected" (eligibility gate).
func (rec *Recorder) Mint(result string) {
	if rec == nil {
		return
	}
	rec.mints.WithLabelValues(result).Inc()
}

// Registry returns underlying registry.
func (rec *Recorder) Registry() *prometheus.Registry {
	return rec.registry
}

// Handler serves the /metrics scrape endpoint.
func (rec *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(rec.registry, promhttp.HandlerOpts{})
}
