package leads

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Channel identifies the transport a message travelled on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Direction of a conversation log entry.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Compliance records permanent suppression. Once Suppressed is true the engine never resets it.
type Compliance struct {
	Suppressed bool       `json:"suppressed"`
	Reason     string     `json:"reason,omitempty"`
	Channel    Channel    `json:"channel,omitempty"`
	At         *time.Time `json:"at,omitempty"`
}

// CadenceState tracks one channel's position in a day-indexed cadence.
type CadenceState struct {
	Channel    Channel    `json:"channel"`
	DayIndex   int        `json:"dayIndex"`
	LastSentAt *time.Time `json:"lastSentAt,omitempty"`
	NextDueAt  *time.Time `json:"nextDueAt,omitempty"`
}

// PendingAppointment is a resolved but not yet scheduled appointment time.
// RetryAt is set while a failed scheduling call waits for the next tick.
type PendingAppointment struct {
	ISOTime    string     `json:"isoTime"`
	Confidence float64    `json:"confidence"`
	SourceText string     `json:"sourceText"`
	Reschedule bool       `json:"reschedule,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	RetryAt    *time.Time `json:"retryAt,omitempty"`
}

// Appointment is the activity created in the CRM for a scheduled visit.
type Appointment struct {
	ActivityID  string    `json:"activityId"`
	StartsAt    time.Time `json:"startsAt"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// HumanReview marks a lead as needing a person. NotifiedAt guards the handoff notification.
type HumanReview struct {
	Needed     bool       `json:"needed"`
	Reason     string     `json:"reason,omitempty"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
}

// Message is one conversation log entry.
type Message struct {
	Direction         Direction `json:"direction"`
	Channel           Channel   `json:"channel"`
	Text              string    `json:"text"`
	At                time.Time `json:"at"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
}

// Lead is the aggregate owned by the state machine.
type Lead struct {
	Key   string `json:"key"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	// Vehicle or product of interest, used as reply context.
	Interest string `json:"interest,omitempty"`

	Mode       Mode                     `json:"mode"`
	Compliance Compliance               `json:"compliance"`
	Cadence    map[Channel]CadenceState `json:"cadence,omitempty"`
	// OfferStartedAt anchors the time-bounded offer window of the cadence.
	OfferStartedAt *time.Time `json:"offerStartedAt,omitempty"`

	FollowUpCount int        `json:"followUpCount"`
	FollowUpDueAt *time.Time `json:"followUpDueAt,omitempty"`

	LastInboundMessageID string     `json:"lastInboundMessageId,omitempty"`
	LastInboundAt        *time.Time `json:"lastInboundAt,omitempty"`

	PendingAppointment *PendingAppointment `json:"pendingAppointment,omitempty"`
	Appointment        *Appointment        `json:"appointment,omitempty"`
	ApptNotifySent     bool                `json:"apptNotifySent"`
	HumanReview        HumanReview         `json:"humanReview"`

	ConversationLog []Message `json:"conversationLog,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Hash is the snapshot hash of the stored record this lead was loaded from.
	Hash string `json:"-"`
}

// NewLead returns a lead in mode NEW.
func NewLead(key string, now time.Time) *Lead {
	return &Lead{
		Key:       strings.TrimSpace(key),
		Mode:      ModeNew,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Address returns the lead's contact identity for the channel.
func (l *Lead) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return l.Email
	case ChannelSMS:
		return l.Phone
	}
	return ""
}

// CadenceFor returns the channel's cadence state, zero-valued when not enrolled.
func (l *Lead) CadenceFor(ch Channel) CadenceState {
	if st, ok := l.Cadence[ch]; ok {
		return st
	}
	return CadenceState{Channel: ch}
}

// SetCadence stores the channel's cadence state.
func (l *Lead) SetCadence(st CadenceState) {
	if l.Cadence == nil {
		l.Cadence = make(map[Channel]CadenceState)
	}
	l.Cadence[st.Channel] = st
}

// StopCadence clears every channel's next due time.
func (l *Lead) StopCadence() {
	for ch, st := range l.Cadence {
		st.NextDueAt = nil
		l.Cadence[ch] = st
	}
}

// StopFollowUps clears the generic follow-up timer.
func (l *Lead) StopFollowUps() {
	l.FollowUpDueAt = nil
}

// Append adds a conversation log entry.
func (l *Lead) Append(msg Message) {
	l.ConversationLog = append(l.ConversationLog, msg)
}

// NextDueAt is the earliest pending timer across cadence channels and follow-ups, nil when none is set.
func (l *Lead) NextDueAt() *time.Time {
	var next *time.Time
	consider := func(t *time.Time) {
		if t == nil {
			return
		}
		if next == nil || t.Before(*next) {
			v := *t
			next = &v
		}
	}
	if l.Mode == ModeCadence {
		for _, st := range l.Cadence {
			consider(st.NextDueAt)
		}
	}
	if l.Mode == ModeConvo {
		consider(l.FollowUpDueAt)
		if l.PendingAppointment != nil {
			consider(l.PendingAppointment.RetryAt)
		}
	}
	return next
}

// Clone returns a deep copy.
func (l *Lead) Clone() *Lead {
	data, err := json.Marshal(l)
	if err != nil {
		panic("leads: clone: " + err.Error())
	}
	var out Lead
	if err := json.Unmarshal(data, &out); err != nil {
		panic("leads: clone: " + err.Error())
	}
	out.Hash = l.Hash
	return &out
}

// SnapshotHash hashes the persisted representation of the lead.
func SnapshotHash(l *Lead) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
