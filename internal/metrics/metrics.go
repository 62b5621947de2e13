// Package metrics exports check-in and registration outcomes to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"eventdesk/internal/attendance"
	"eventdesk/internal/queue"
)

// Recorder counts engine outcomes. It implements attendance.Observer.
type Recorder struct {
	checkIns      *prometheus.CounterVec
	registrations *prometheus.CounterVec
	published     *prometheus.CounterVec
}

var _ attendance.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventdesk",
			Name:      "checkin_outcomes_total",
			Help:      "Check-in attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventdesk",
			Name:      "registration_outcomes_total",
			Help:      "Session registration attempts by outcome.",
		}, []string{"outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventdesk",
			Name:      "notifications_published_total",
			Help:      "Notifications handed to the queue, by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(r.checkIns, r.registrations, r.published)
	return r
}

// ObserveCheckIn counts a check-in outcome.
func (r *Recorder) ObserveCheckIn(outcome attendance.CheckInOutcome) {
	r.checkIns.WithLabelValues(outcome.String()).Inc()
}

// ObserveRegistration counts a registration outcome.
func (r *Recorder) ObserveRegistration(outcome attendance.RegistrationOutcome) {
	r.registrations.WithLabelValues(outcome.String()).Inc()
}

// ObservePublish counts a notification publish attempt.
func (r *Recorder) ObservePublish(kind string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, queue.ErrFull):
		result = "dropped"
	case err != nil:
		result = "error"
	}
	r.published.WithLabelValues(kind, result).Inc()
}
