// Package delivery downloads the server's settings file over SFTP.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var ErrTransfer = errors.New("delivery: transfer failed")

type Options struct {
	Addr     string
	User     string
	Password string
	// KnownHosts enables host key verification when set.
	KnownHosts string
	Timeout    time.Duration
}

type SFTP struct {
	opts Options
	log  *slog.Logger
}

func NewSFTP(opts Options, log *slog.Logger) *SFTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SFTP{opts: opts, log: log}
}

// Download copies remote to local. The local file is replaced atomically.
func (s *SFTP) Download(ctx context.Context, remote, local string) error {
	s.log.Info("sftp: downloading", "remote", remote, "host", s.opts.Addr)
	if err := s.download(ctx, remote, local); err != nil {
		s.log.Error("sftp: download failed", "remote", remote, "err", err)
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	s.log.Info("sftp: downloaded", "remote", remote, "local", local)
	return nil
}

func (s *SFTP) download(ctx context.Context, remote, local string) error {
	cfg, err := s.clientConfig()
	if err != nil {
		return err
	}
	d := net.Dialer{Timeout: s.opts.Timeout}
	nc, err := d.DialContext(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	// Abort a stalled transfer when the run is interrupted.
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	sc, chans, reqs, err := ssh.NewClientConn(nc, s.opts.Addr, cfg)
	if err != nil {
		_ = nc.Close()
		return fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sc, chans, reqs)
	defer client.Close()

	sf, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("sftp session: %w", err)
	}
	defer sf.Close()

	src, err := sf.Open(remote)
	if err != nil {
		return fmt.Errorf("open %s: %w", remote, err)
	}
	defer src.Close()

	return writeLocal(local, src)
}

func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	cb := ssh.InsecureIgnoreHostKey()
	if s.opts.KnownHosts != "" {
		khcb, err := knownhosts.New(s.opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		cb = khcb
	} else {
		s.log.Warn("sftp: host key not verified (sftp.known_hosts unset)")
	}
	return &ssh.ClientConfig{
		User:            s.opts.User,
		Auth:            []ssh.AuthMethod{ssh.Password(s.opts.Password)},
		HostKeyCallback: cb,
		Timeout:         s.opts.Timeout,
	}, nil
}

func writeLocal(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("copy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
