package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nadmax/sendbatch/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedSummary() report.Summary {
	return report.Summary{
		RunID:      "0f3a9c1d-1111-2222-3333-444455556666",
		Total:      3,
		Succeeded:  2,
		Failed:     1,
		Attempts:   7,
		Retries:    4,
		WallTime:   "12.5s",
		FailedJobs: []string{"JOB_<B>"},
		LogPath:    "logs/sendbatch_20260101_000000_0f3a9c1d.jsonl",
	}
}

func TestNewSendGridNotifier_Validation(t *testing.T) {
	_, err := NewSendGridNotifier("", "from@example.com", []string{"ops@example.com"})
	assert.Error(t, err)

	_, err = NewSendGridNotifier("key", "from@example.com", nil)
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name     string
		summary  report.Summary
		expected string
	}{
		{name: "failures", summary: failedSummary(), expected: "[sendbatch] run 0f3a9c1d: 1 of 3 commands failed"},
		{name: "success", summary: report.Summary{RunID: "abc", Total: 4, Succeeded: 4}, expected: "[sendbatch] run abc: all 4 commands succeeded"},
		{name: "dry run", summary: report.Summary{RunID: "abc", Total: 50, Skipped: 50, DryRun: true}, expected: "[sendbatch] run abc: dry run of 50 commands"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Subject(tt.summary))
		})
	}
}

func TestBodies(t *testing.T) {
	s := failedSummary()

	plain := PlainBody(s)
	assert.Contains(t, plain, "Failed:     1")
	assert.Contains(t, plain, "JOB_<B>")
	assert.Contains(t, plain, s.LogPath)

	htmlBody := HTMLBody(s)
	assert.Contains(t, htmlBody, "JOB_&lt;B&gt;")
	assert.NotContains(t, htmlBody, "JOB_<B>")
}

func TestMessage_MultipleRecipients(t *testing.T) {
	n, err := NewSendGridNotifier("key", "batch@example.com", []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)

	msg := n.Message(failedSummary())
	require.Len(t, msg.Personalizations, 1)
	assert.Len(t, msg.Personalizations[0].To, 2)
	assert.Equal(t, "batch@example.com", msg.From.Address)
	assert.Equal(t, Subject(failedSummary()), msg.Subject)
}

func TestNotify(t *testing.T) {
	var received map[string]any
	status := http.StatusAccepted

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n, err := NewSendGridNotifier("test-key", "batch@example.com", []string{"ops@example.com"})
	require.NoError(t, err)
	n.SetEndpoint(srv.URL + "/v3/mail/send")

	require.NoError(t, n.Notify(context.Background(), failedSummary()))
	assert.Equal(t, Subject(failedSummary()), received["subject"])

	status = http.StatusUnauthorized
	err = n.Notify(context.Background(), failedSummary())
	assert.ErrorContains(t, err, "status 401")
}
