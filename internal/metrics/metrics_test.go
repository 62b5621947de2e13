package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"eventdesk/internal/attendance"
	"eventdesk/internal/queue"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveCheckIn(attendance.NewlyCheckedIn)
	r.ObserveCheckIn(attendance.AlreadyCheckedIn)
	r.ObserveCheckIn(attendance.AlreadyCheckedIn)
	r.ObserveRegistration(attendance.SessionFull)
	r.ObservePublish("checked_in", nil)
	r.ObservePublish("checked_in", errors.New("redis down"))
	r.ObservePublish("registered", fmt.Errorf("publish registered: %w", queue.ErrFull))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.checkIns.WithLabelValues("newly_checked_in")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.checkIns.WithLabelValues("already_checked_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.registrations.WithLabelValues("session_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.published.WithLabelValues("checked_in", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.published.WithLabelValues("registered", "dropped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.published.WithLabelValues("registered", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.checkIns))
}
