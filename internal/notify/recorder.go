package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory StaffNotifier used by offline runs and tests.
type Recorder struct {
	mu           sync.Mutex
	Handoffs     []HandoffNotice
	Appointments []AppointmentNotice
	HandoffErr   error
	AppointErr   error
}

func (r *Recorder) NotifyHandoff(_ context.Context, n HandoffNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.HandoffErr != nil {
		return r.HandoffErr
	}
	r.Handoffs = append(r.Handoffs, n)
	return nil
}

func (r *Recorder) NotifyAppointment(_ context.Context, n AppointmentNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AppointErr != nil {
		return r.AppointErr
	}
	r.Appointments = append(r.Appointments, n)
	return nil
}

// Counts returns the number of recorded handoff and appointment notices.
func (r *Recorder) Counts() (handoffs, appointments int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Handoffs), len(r.Appointments)
}

var _ StaffNotifier = (*Recorder)(nil)
