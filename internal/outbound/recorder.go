package outbound

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Recorder is an in-memory Dispatcher for offline runs and tests.
type Recorder struct {
	mu   sync.Mutex
	Sent []Message
	// Err, when set, fails every send.
	Err error
}

var _ Dispatcher = (*Recorder)(nil)

func (r *Recorder) Send(_ context.Context, msg Message) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return Receipt{}, r.Err
	}
	r.Sent = append(r.Sent, msg)
	return Receipt{ProviderMessageID: fmt.Sprintf("out-%d", len(r.Sent)), SentAt: time.Now().UTC()}, nil
}

// Messages returns a copy of what was sent.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.Sent...)
}
