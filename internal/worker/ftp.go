package worker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPBody retrieves a file over FTP in binary mode.
type FTPBody struct {
	cfg Config
}

// NewFTPBody creates an FTP body.
func NewFTPBody(cfg Config) *FTPBody {
	return &FTPBody{cfg: cfg}
}

// Run implements Body.
func (b *FTPBody) Run(ctx context.Context, target string, l Ledger, id int) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid ftp url: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		return fmt.Errorf("ftp url %s has no file path", u.Redacted())
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "21")
	}

	user, password := "anonymous", "anonymous"
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			password = p
		}
	}

	timeout := b.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("ftp dial %s: %w", host, err)
	}
	defer conn.Quit()

	if err := conn.Login(user, password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		return fmt.Errorf("ftp binary mode: %w", err)
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		return fmt.Errorf("ftp retr %s: %w", u.Path, err)
	}
	defer resp.Close()

	// Unblock a pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = resp.SetDeadline(time.Now())
	})
	defer stop()

	if err := stream(ctx, resp, NewMeter(l, id, b.cfg), b.cfg); err != nil {
		return fmt.Errorf("transfer interrupted: %w", err)
	}
	return nil
}
