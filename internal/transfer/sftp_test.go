package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/credentials"
)

type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// memServer dials sessions against one shared in-memory filesystem.
func memServer(t *testing.T) DialFunc {
	t.Helper()
	handlers := sftp.InMemHandler()
	return func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		clientR, serverW := io.Pipe()
		serverR, clientW := io.Pipe()
		server := sftp.NewRequestServer(pipeConn{serverR, serverW}, handlers)
		go server.Serve()
		client, err := sftp.NewClientPipe(clientR, clientW)
		if err != nil {
			server.Close()
			return nil, nil, err
		}
		return client, server, nil
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeArchive(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestUploadArchive(t *testing.T) {
	dial := memServer(t)
	u := NewWithDialer(config.Default().SFTP, dial, testLogger())
	local := writeArchive(t, "ACME01_P.7z", "payload")

	require.NoError(t, u.UploadArchive(context.Background(), local, "/robot_test_files/ACME01"))

	client, closer, err := dial(context.Background())
	require.NoError(t, err)
	defer closer.Close()
	defer client.Close()

	f, err := client.Open("/robot_test_files/ACME01/ACME01_P.7z")
	require.NoError(t, err)
	defer f.Close()
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestUploadArchiveRefusesOverwrite(t *testing.T) {
	u := NewWithDialer(config.Default().SFTP, memServer(t), testLogger())
	local := writeArchive(t, "ACME01_P.7z", "payload")

	require.NoError(t, u.UploadArchive(context.Background(), local, "/robot_files/ACME01"))
	err := u.UploadArchive(context.Background(), local, "/robot_files/ACME01")
	assert.ErrorIs(t, err, ErrRemoteExists)
}

func TestConnectRetries(t *testing.T) {
	cfg := config.Default().SFTP
	good := memServer(t)
	calls := 0
	dial := func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		calls++
		if calls < 3 {
			return nil, nil, errors.New("connection refused")
		}
		return good(ctx)
	}
	var slept []time.Duration
	u := NewWithDialer(cfg, dial, testLogger()).WithSleep(func(d time.Duration) { slept = append(slept, d) })

	require.NoError(t, u.UploadArchive(context.Background(), writeArchive(t, "a.7z", "x"), "/robot_files/A"))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{20 * time.Second, 20 * time.Second}, slept)
}

func TestConnectGivesUp(t *testing.T) {
	cfg := config.Default().SFTP
	dial := func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		return nil, nil, errors.New("connection refused")
	}
	var slept int
	u := NewWithDialer(cfg, dial, testLogger()).WithSleep(func(time.Duration) { slept++ })

	err := u.UploadArchive(context.Background(), writeArchive(t, "a.7z", "x"), "/robot_files/A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 2, slept)
}

func TestNewResolvesHost(t *testing.T) {
	cfg := config.Default().SFTP
	_, err := New(cfg, credentials.Item{Name: "sftp", Username: "robot"}, testLogger())
	assert.Error(t, err)

	_, err = New(cfg, credentials.Item{Name: "sftp", Username: "robot", Notes: "sftp.example.com"}, testLogger())
	assert.NoError(t, err)

	cfg.HostKey = "not a key"
	_, err = New(cfg, credentials.Item{Name: "sftp", Notes: "sftp.example.com"}, testLogger())
	assert.Error(t, err)
}
