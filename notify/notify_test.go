package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (s *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.inputs = append(s.inputs, params)
	return &sesv2.SendEmailOutput{}, s.err
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, audience, title string, metadata map[string]any) error {
	s.calls++
	return s.err
}

var meta = map[string]any{
	"platform":    "google_maps",
	"retry_count": 3,
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), "admins", "collection failed", meta))

	out := buf.String()
	assert.Contains(t, out, "audience=admins")
	assert.Contains(t, out, `title="collection failed"`)
	assert.Contains(t, out, "platform=google_maps")
	assert.Contains(t, out, "retry_count=3")
}

func TestKafkaNotifier_PublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	sentAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	n := &KafkaNotifier{writer: w, timeout: time.Second, now: func() time.Time { return sentAt }}

	require.NoError(t, n.Notify(context.Background(), "admins", "collection failed", meta))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "admins", string(w.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "admins", ev.Audience)
	assert.Equal(t, "collection failed", ev.Title)
	assert.Equal(t, "google_maps", ev.Metadata["platform"])
	assert.True(t, sentAt.Equal(ev.SentAt))

	w.err = errors.New("broker unreachable")
	assert.Error(t, n.Notify(context.Background(), "admins", "again", nil))
}

func TestNewKafkaNotifier_Validation(t *testing.T) {
	_, err := NewKafkaNotifier(" , ", "alerts")
	assert.Error(t, err)
	_, err = NewKafkaNotifier("localhost:9092", "")
	assert.Error(t, err)

	n, err := NewKafkaNotifier("localhost:9092, localhost:9093", "alerts")
	require.NoError(t, err)
	assert.NoError(t, n.Close())
}

func TestEmailNotifier(t *testing.T) {
	ses := &fakeSES{}
	n := &EmailNotifier{
		client:     ses,
		from:       "alerts@example.com",
		recipients: map[string][]string{"admins": {"ops@example.com"}},
	}

	require.NoError(t, n.Notify(context.Background(), "admins", "collection failed", meta))
	require.Len(t, ses.inputs, 1)
	in := ses.inputs[0]
	assert.Equal(t, "alerts@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"ops@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "collection failed", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "collection failed\n\nplatform: google_maps\nretry_count: 3\n", aws.ToString(in.Content.Simple.Body.Text.Data))

	// audiences without recipients are skipped
	require.NoError(t, n.Notify(context.Background(), "tenants", "x", nil))
	assert.Len(t, ses.inputs, 1)

	ses.err = errors.New("throttled")
	assert.Error(t, n.Notify(context.Background(), "admins", "x", nil))
}

func TestMulti_TriesEveryNotifier(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	ok := &stubNotifier{}

	err := Multi{failing, ok}.Notify(context.Background(), "admins", "x", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, Multi{ok}.Notify(context.Background(), "admins", "x", nil))
}
