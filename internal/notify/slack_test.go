package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/credentials"
)

func TestMessage(t *testing.T) {
	got := Message(Report{
		MigType:   "MLM",
		Processed: 3,
		Success:   []string{"ACME01", "ACME03"},
		Failed:    []string{"ACME02"},
		Missing:   map[string]int{"ACME03": 2, "ACME01": 10},
		NotFound:  map[string]int{"ACME03": 1},
		Duration:  90*time.Second + 300*time.Millisecond,
	})
	want := "*MLM migration:*\n\n" +
		"Processed: 3\n" +
		"Success: ACME01, ACME03\n" +
		"Failed: ACME02\n" +
		"Missing documents: ACME01 (10), ACME03 (2)\n" +
		"Files not found: ACME03 (1)\n" +
		"Duration: 0:01:30\n"
	assert.Equal(t, want, got)
}

func TestMessageEmptyBatch(t *testing.T) {
	assert.Equal(t, "*SDOL migration:*\n\nNo unprocessed customer files found\n", Message(Report{MigType: "SDOL"}))
}

type recorder struct {
	mu       sync.Mutex
	webhooks []string
	uploads  []string
}

func (rec *recorder) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", func(w http.ResponseWriter, r *http.Request) {
		var msg slack.WebhookMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		rec.mu.Lock()
		rec.webhooks = append(rec.webhooks, msg.Text)
		rec.mu.Unlock()
		io.WriteString(w, "ok")
	})
	mux.HandleFunc("/api/files.upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		rec.mu.Lock()
		rec.uploads = append(rec.uploads, r.FormValue("channels"))
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"file":{"id":"F1","name":"robot.log"}}`)
	})
	return mux
}

func TestNotifyPostsMessageAndLog(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	logFile := filepath.Join(t.TempDir(), "robot.log")
	require.NoError(t, os.WriteFile(logFile, []byte("log line\n"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n, err := New(config.SlackConfig{Channel: "C123"},
		credentials.Item{Name: "slack", URL: srv.URL + "/hook", Notes: "xoxb-test"},
		logger, slack.OptionAPIURL(srv.URL+"/api/"))
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Report{MigType: "PDOL", Processed: 1, Success: []string{"ACME01"}, LogFile: logFile}))

	require.Len(t, rec.webhooks, 1)
	assert.True(t, strings.HasPrefix(rec.webhooks[0], "*PDOL migration:*"))
	assert.Equal(t, []string{"C123"}, rec.uploads)
}

func TestNotifyWithoutTokenSkipsUpload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n, err := New(config.SlackConfig{Channel: "C123"}, credentials.Item{Name: "slack", URL: srv.URL + "/hook"}, logger)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), Report{MigType: "SDOL", LogFile: "robot.log"}))
	assert.Len(t, rec.webhooks, 1)
	assert.Empty(t, rec.uploads)
}

func TestNewRequiresWebhook(t *testing.T) {
	_, err := New(config.SlackConfig{}, credentials.Item{Name: "slack"}, slog.Default())
	assert.Error(t, err)
}
