package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/crm"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/notify"
)

func exact(at time.Time, conf float64) Extraction {
	return Extraction{Classification: ExactTime, ISO: at.Format(time.RFC3339), Confidence: conf}
}

func newScheduler(c crm.CRM, n notify.StaffNotifier) *Scheduler {
	return NewScheduler(c, n, SchedulerConfig{RetryDelay: time.Minute, MaxAttempts: 3, Location: storeLoc}, nil)
}

func TestScheduler_BooksOnceAndNotifiesOnce(t *testing.T) {
	c := &crm.Recorder{}
	n := &notify.Recorder{}
	s := newScheduler(c, n)
	lead := leads.NewLead("opp-1", extractNow)
	at := extractNow.Add(28 * time.Hour)

	for i := 0; i < 3; i++ {
		out := s.Apply(context.Background(), lead, exact(at, 0.9), "Tuesday at 3pm", extractNow)
		assert.True(t, out.Eligible)
		assert.True(t, out.Scheduled)
	}
	scheduled, _ := c.Counts()
	_, appts := n.Counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 1, appts)
	require.NotNil(t, lead.Appointment)
	assert.Equal(t, "act-1", lead.Appointment.ActivityID)
	assert.True(t, lead.Appointment.StartsAt.Equal(at))
	assert.Equal(t, time.UTC, c.Scheduled[0].DueUTC.Location())
	assert.True(t, lead.ApptNotifySent)
	assert.Nil(t, lead.PendingAppointment)
}

func TestScheduler_IgnoresIneligible(t *testing.T) {
	c := &crm.Recorder{}
	n := &notify.Recorder{}
	s := newScheduler(c, n)
	lead := leads.NewLead("opp-1", extractNow)
	at := extractNow.Add(28 * time.Hour)

	for _, ex := range []Extraction{
		exact(at, 0.79),
		{Classification: MultiOption, Confidence: 0.9},
		{Classification: VagueWindow, ISO: at.Format(time.RFC3339), Window: WindowAfternoon, Confidence: 0.95},
		{Classification: ExactTime, Confidence: 0.95},
	} {
		assert.False(t, s.Apply(context.Background(), lead, ex, "", extractNow).Eligible)
	}
	scheduled, _ := c.Counts()
	_, appts := n.Counts()
	assert.Zero(t, scheduled)
	assert.Zero(t, appts)
	assert.Nil(t, lead.PendingAppointment)
}

func TestScheduler_ScheduleFailureDoesNotBlockNotify(t *testing.T) {
	c := &crm.Recorder{ScheduleErr: errors.New("crm 503")}
	n := &notify.Recorder{}
	s := newScheduler(c, n)
	lead := leads.NewLead("opp-1", extractNow)
	at := extractNow.Add(28 * time.Hour)

	out := s.Apply(context.Background(), lead, exact(at, 0.9), "Tuesday at 3pm", extractNow)
	assert.Error(t, out.ScheduleErr)
	assert.True(t, out.Notified)
	require.NotNil(t, lead.PendingAppointment)
	require.NotNil(t, lead.PendingAppointment.RetryAt)
	assert.Nil(t, lead.Appointment)

	assert.False(t, s.RetryDue(context.Background(), lead, extractNow.Add(30*time.Second)).Eligible)

	c.ScheduleErr = nil
	out = s.RetryDue(context.Background(), lead, extractNow.Add(2*time.Minute))
	assert.True(t, out.Scheduled)
	assert.False(t, out.Notified)
	scheduled, _ := c.Counts()
	_, appts := n.Counts()
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 1, appts)
	assert.Nil(t, lead.PendingAppointment)
}

func TestScheduler_NotifyFailureDoesNotBlockSchedule(t *testing.T) {
	c := &crm.Recorder{}
	n := &notify.Recorder{AppointErr: errors.New("smtp down")}
	s := newScheduler(c, n)
	lead := leads.NewLead("opp-1", extractNow)
	at := extractNow.Add(28 * time.Hour)

	out := s.Apply(context.Background(), lead, exact(at, 0.9), "Tuesday at 3pm", extractNow)
	assert.True(t, out.Scheduled)
	assert.Error(t, out.NotifyErr)
	assert.False(t, lead.ApptNotifySent)

	n.AppointErr = nil
	out = s.RetryDue(context.Background(), lead, extractNow.Add(time.Hour))
	assert.True(t, out.Notified)
	scheduled, _ := c.Counts()
	assert.Equal(t, 1, scheduled)
	assert.True(t, lead.ApptNotifySent)
	assert.Nil(t, lead.PendingAppointment)
}

func TestScheduler_GivesUpAfterMaxAttempts(t *testing.T) {
	c := &crm.Recorder{ScheduleErr: errors.New("crm 500")}
	s := newScheduler(c, &notify.Recorder{})
	lead := leads.NewLead("opp-1", extractNow)
	at := extractNow.Add(72 * time.Hour)

	s.Apply(context.Background(), lead, exact(at, 0.9), "x", extractNow)
	now := extractNow
	for i := 0; i < 5 && lead.PendingAppointment != nil; i++ {
		now = now.Add(time.Hour)
		s.RetryDue(context.Background(), lead, now)
	}
	assert.Nil(t, lead.PendingAppointment)
}

func TestScheduler_RescheduleCompletesPrevious(t *testing.T) {
	c := &crm.Recorder{}
	n := &notify.Recorder{}
	s := newScheduler(c, n)
	lead := leads.NewLead("opp-1", extractNow)
	first := extractNow.Add(28 * time.Hour)
	second := extractNow.Add(76 * time.Hour)

	s.Apply(context.Background(), lead, exact(first, 0.9), "Tuesday at 3pm", extractNow)
	out := s.Apply(context.Background(), lead, Extraction{Classification: Reschedule, ISO: second.Format(time.RFC3339), Confidence: 0.9}, "can we move it to Thursday", extractNow)

	assert.True(t, out.Scheduled)
	assert.True(t, out.Notified)
	require.Len(t, c.Completed, 1)
	assert.Equal(t, "act-1", c.Completed[0].ActivityID)
	assert.Equal(t, "act-2", lead.Appointment.ActivityID)
	_, appts := n.Counts()
	assert.Equal(t, 2, appts)
	assert.True(t, n.Appointments[1].Reschedule)
}
