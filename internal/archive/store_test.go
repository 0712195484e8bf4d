package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// mockS3Client records PutObject/GetObject calls for testing.
type mockS3Client struct {
	putCalls []putCall
	objects  map[string][]byte
	getErr   error
}

type putCall struct {
	bucket string
	key    string
	body   []byte
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.putCalls = append(m.putCalls, putCall{bucket: *input.Bucket, key: *input.Key, body: body})
	m.objects[*input.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testLead(now time.Time) *leads.Lead {
	lead := leads.NewLead("opp-42", now.Add(-72*time.Hour))
	lead.Phone = "+15551234567"
	lead.Mode = leads.ModeOptedOut
	lead.Compliance = leads.Compliance{Suppressed: true, Reason: "opt_out", Channel: leads.ChannelSMS}
	lead.ConversationLog = []leads.Message{
		{Direction: leads.DirectionOutbound, Channel: leads.ChannelSMS, Text: "Hi Jordan, still interested?", At: now.Add(-time.Hour)},
		{Direction: leads.DirectionInbound, Channel: leads.ChannelSMS, Text: "STOP texting 555-123-4567", At: now},
	}
	return lead
}

func TestStore_ArchiveLead(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "lead-archive", nil)
	now := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.ArchiveLead(context.Background(), testLead(now)))
	require.Len(t, mock.putCalls, 2, "record + manifest")

	recordPut := mock.putCalls[0]
	assert.Equal(t, "lead-archive", recordPut.bucket)
	assert.Equal(t, "leads/v1/by-date/2025/03/10/opp-42.json", recordPut.key)

	var rec LeadRecord
	require.NoError(t, json.Unmarshal(recordPut.body, &rec))
	assert.Equal(t, "OPTED_OUT", rec.Mode)
	assert.Equal(t, "opt_out", rec.Reason)
	assert.Equal(t, HashContact("+15551234567"), rec.ContactHash)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, "agent", rec.Messages[0].Role)
	assert.Equal(t, "STOP texting [PHONE]", rec.Messages[1].Content)

	manifest := mock.putCalls[1]
	assert.Equal(t, "leads/v1/manifests/2025-03.jsonl", manifest.key)
	var entry ManifestEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(manifest.body), &entry))
	assert.Equal(t, "opp-42", entry.LeadKey)
}

func TestStore_AppendManifestAccumulates(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "lead-archive", nil)
	at := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{LeadKey: "a"}, at))
	require.NoError(t, store.AppendManifest(context.Background(), ManifestEntry{LeadKey: "b"}, at))

	lines := strings.Split(strings.TrimSpace(string(mock.objects["leads/v1/manifests/2025-03.jsonl"])), "\n")
	assert.Len(t, lines, 2)
}

func TestStore_ManifestReadFailureDoesNotOverwrite(t *testing.T) {
	mock := newMockS3()
	mock.getErr = errors.New("access denied")
	store := NewStore(mock, "lead-archive", nil)

	err := store.AppendManifest(context.Background(), ManifestEntry{LeadKey: "a"}, time.Now())
	assert.Error(t, err)
	assert.Empty(t, mock.putCalls)
}

func TestStore_DisabledIsNoop(t *testing.T) {
	mock := newMockS3()
	store := NewStore(mock, "", nil)
	assert.False(t, store.Enabled())
	require.NoError(t, store.ArchiveLead(context.Background(), testLead(time.Now())))
	assert.Empty(t, mock.putCalls)

	var nilStore *Store
	assert.False(t, nilStore.Enabled())
}
