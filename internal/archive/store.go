// Package archive writes the conversation of every lead that reaches a
// terminal mode to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

const recordVersion = "1.0"

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives lead records to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ArchiveLead writes lead's scrubbed conversation and appends it to the
// monthly manifest.
func (s *Store) ArchiveLead(ctx context.Context, lead *leads.Lead) error {
	if !s.Enabled() || lead == nil {
		return nil
	}
	record := NewRecord(lead, s.now().UTC())
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	at := record.ArchivedAt
	s3Key := fmt.Sprintf("leads/v1/by-date/%d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), safeKey(lead.Key))
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}
	s.logger.Info("archived lead to S3", "lead_key", lead.Key, "s3_key", s3Key, "mode", record.Mode, "message_count", record.MessageCount)

	entry := ManifestEntry{
		LeadKey:      lead.Key,
		S3Key:        s3Key,
		Mode:         record.Mode,
		Reason:       record.Reason,
		ArchivedAt:   at.Format(time.RFC3339),
		MessageCount: record.MessageCount,
	}
	if err := s.AppendManifest(ctx, entry, at); err != nil {
		s.logger.Warn("archive: manifest append failed", "lead_key", lead.Key, "error", err)
	}
	return nil
}

// NewRecord builds the archived form of lead.
func NewRecord(lead *leads.Lead, at time.Time) *LeadRecord {
	contact := lead.Phone
	if contact == "" {
		contact = lead.Email
	}
	reason := lead.HumanReview.Reason
	if lead.Compliance.Suppressed {
		reason = lead.Compliance.Reason
	}
	msgs := make([]Message, 0, len(lead.ConversationLog))
	for _, m := range lead.ConversationLog {
		role := "customer"
		if m.Direction == leads.DirectionOutbound {
			role = "agent"
		}
		msgs = append(msgs, Message{Role: role, Channel: string(m.Channel), Content: ScrubPII(m.Text), Timestamp: m.At})
	}
	return &LeadRecord{
		Version:      recordVersion,
		LeadKey:      lead.Key,
		ContactHash:  HashContact(contact),
		Mode:         string(lead.Mode),
		Reason:       reason,
		Appointment:  lead.Appointment != nil,
		CreatedAt:    lead.CreatedAt,
		ArchivedAt:   at,
		MessageCount: len(msgs),
		Messages:     msgs,
	}
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	if !s.Enabled() {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	manifestKey := fmt.Sprintf("leads/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("archive: starting new manifest", "key", manifestKey)
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}

func safeKey(key string) string {
	return strings.NewReplacer("/", "_", ":", "_", "+", "").Replace(key)
}
