// Package transfer delivers finished archives to the SFTP drop server.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/credentials"
)

var (
	// ErrRemoteExists is returned when the archive is already present on the server.
	ErrRemoteExists = errors.New("remote file already exists")
	// ErrNotListed is returned when the upload finished but the file is
	// missing from the remote directory listing.
	ErrNotListed = errors.New("uploaded file not found in remote listing")
)

// DialFunc opens an SFTP session. The returned closer releases the
// transport underneath the client.
type DialFunc func(ctx context.Context) (*sftp.Client, io.Closer, error)

// Uploader puts archives on the SFTP server, one session per upload.
type Uploader struct {
	cfg    config.SFTPConfig
	dial   DialFunc
	sleep  func(time.Duration)
	logger *slog.Logger
}

// New returns an Uploader that dials the configured server with the
// username and password of item. The host comes from cfg.Host, or from the
// item notes when cfg.Host is empty.
func New(cfg config.SFTPConfig, item credentials.Item, logger *slog.Logger) (*Uploader, error) {
	host := cfg.Host
	if host == "" {
		host = item.Notes
	}
	if host == "" {
		return nil, fmt.Errorf("no sftp host configured and credentials item %q has no notes", item.Name)
	}
	hostKey, err := hostKeyCallback(cfg.HostKey)
	if err != nil {
		return nil, err
	}
	if cfg.HostKey == "" {
		logger.Warn("SFTP host key not configured, server identity will not be verified.", slog.String("host", host))
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	clientCfg := &ssh.ClientConfig{
		User:            item.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(item.Password)},
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}
	return NewWithDialer(cfg, sshDialer(net.JoinHostPort(host, strconv.Itoa(port)), clientCfg), logger), nil
}

// NewWithDialer returns an Uploader using dial to open sessions.
func NewWithDialer(cfg config.SFTPConfig, dial DialFunc, logger *slog.Logger) *Uploader {
	return &Uploader{cfg: cfg, dial: dial, sleep: time.Sleep, logger: logger}
}

// WithSleep replaces the wait between connection attempts.
func (u *Uploader) WithSleep(sleep func(time.Duration)) *Uploader {
	u.sleep = sleep
	return u
}

func hostKeyCallback(key string) (ssh.HostKeyCallback, error) {
	if key == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("parse sftp host key: %w", err)
	}
	return ssh.FixedHostKey(pub), nil
}

func sshDialer(addr string, clientCfg *ssh.ClientConfig) DialFunc {
	return func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		d := net.Dialer{Timeout: clientCfg.Timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
		}
		sshClient := ssh.NewClient(c, chans, reqs)
		client, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return nil, nil, fmt.Errorf("start sftp subsystem on %s: %w", addr, err)
		}
		return client, sshClient, nil
	}
}

// UploadArchive puts localPath into remoteDir, creating the directory when
// needed. An existing remote file is never overwritten. The upload is
// confirmed by listing remoteDir afterwards.
func (u *Uploader) UploadArchive(ctx context.Context, localPath, remoteDir string) error {
	client, closer, err := u.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		client.Close()
		if closer != nil {
			closer.Close()
		}
	}()

	l := u.logger.With(slog.String("file", filepath.Base(localPath)), slog.String("remote_dir", remoteDir))
	if err := put(ctx, client, localPath, remoteDir); err != nil {
		l.Error("SFTP upload failed.", "error", err)
		return err
	}
	l.Info("Archive uploaded to SFTP.")
	return nil
}

func (u *Uploader) connect(ctx context.Context) (*sftp.Client, io.Closer, error) {
	attempts := u.cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}
	var errs []error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		client, closer, err := u.dial(ctx)
		if err == nil {
			return client, closer, nil
		}
		errs = append(errs, err)
		u.logger.Warn("SFTP connection attempt failed.", slog.Int("attempt", i), slog.Int("of", attempts), "error", err)
		if i < attempts {
			u.sleep(u.cfg.RetryDelay)
		}
	}
	return nil, nil, fmt.Errorf("connect to sftp after %d attempts: %w", attempts, errors.Join(errs...))
}

func put(ctx context.Context, client *sftp.Client, localPath, remoteDir string) error {
	if err := client.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("create remote dir %s: %w", remoteDir, err)
	}

	name := filepath.Base(localPath)
	remotePath := path.Join(remoteDir, name)
	if _, err := client.Stat(remotePath); err == nil {
		return fmt.Errorf("%w: %s", ErrRemoteExists, remotePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat remote %s: %w", remotePath, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local archive: %w", err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy to %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote %s: %w", remotePath, err)
	}

	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return fmt.Errorf("list remote dir %s: %w", remoteDir, err)
	}
	for _, e := range entries {
		if e.Name() == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotListed, remotePath)
}
