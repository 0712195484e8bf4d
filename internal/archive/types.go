package archive

import "time"

// LeadRecord is the archived form of a lead that reached a terminal mode.
// Contact details are hashed and message bodies scrubbed.
type LeadRecord struct {
	Version      string    `json:"version"`
	LeadKey      string    `json:"lead_key"`
	ContactHash  string    `json:"contact_hash"`
	Mode         string    `json:"mode"`
	Reason       string    `json:"reason,omitempty"`
	Appointment  bool      `json:"appointment_booked"`
	CreatedAt    time.Time `json:"created_at"`
	ArchivedAt   time.Time `json:"archived_at"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages"`
}

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Channel   string    `json:"channel"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	LeadKey      string `json:"lead_key"`
	S3Key        string `json:"s3_key"`
	Mode         string `json:"mode"`
	Reason       string `json:"reason,omitempty"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}
