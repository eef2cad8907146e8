package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"
)

// mandatoryTLSMarkers flag upgrade failures that mean the server will not
// proceed in the clear. When one appears, retrying over plaintext would
// either be rejected or, worse, ship credentials unencrypted to a server
// that already told us not to.
var mandatoryTLSMarkers = []string{"421", "tls", "ssl", "secure", "cleartext"}

// ftpConn is the slice of *ftp.ServerConn the client needs; tests substitute
// their own implementation to drive the upgrade-and-fallback path without a
// server.
type ftpConn interface {
	Login(user, password string) error
	CurrentDir() (string, error)
	ChangeDir(path string) error
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn, narrowing Retr's
// *ftp.Response to io.ReadCloser.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(remotePath string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(remotePath)
}

// ftpClient speaks FTP, preferring an explicit TLS upgrade and falling back
// to plaintext exactly once when the server tolerates it.
type ftpClient struct {
	target Target
	conn   ftpConn

	dialTLS   func(ctx context.Context, addr string) (ftpConn, error)
	dialPlain func(ctx context.Context, addr string) (ftpConn, error)
}

func newFTPClient(target Target) *ftpClient {
	c := &ftpClient{target: target}
	c.dialTLS = func(ctx context.Context, addr string) (ftpConn, error) {
		tlsCfg := &tls.Config{
			ServerName: target.Host,
			// Same trust model as the SSH side: the endpoint is accepted as
			// presented. Backup sources routinely run self-signed certs.
			InsecureSkipVerify: true,
			// Strict servers require the data connection to resume the
			// control connection's TLS session.
			ClientSessionCache: tls.NewLRUClientSessionCache(8),
		}
		conn, err := ftp.Dial(addr,
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(connectTimeout),
			ftp.DialWithExplicitTLS(tlsCfg),
		)
		if err != nil {
			return nil, err
		}
		return serverConn{conn}, nil
	}
	c.dialPlain = func(ctx context.Context, addr string) (ftpConn, error) {
		conn, err := ftp.Dial(addr,
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(connectTimeout),
		)
		if err != nil {
			return nil, err
		}
		return serverConn{conn}, nil
	}
	return c
}

// Connect attempts an explicit-TLS session first. A failure that names TLS as
// the problem is final; any other failure earns a single plaintext retry.
func (c *ftpClient) Connect(ctx context.Context) error {
	addr := c.target.Addr()

	conn, tlsErr := c.connectAndLogin(ctx, c.dialTLS, addr)
	if tlsErr == nil {
		c.conn = conn
		return nil
	}
	if requiresTLS(tlsErr) {
		return fmt.Errorf("%w: server requires TLS but the upgrade failed: %v", ErrConnection, tlsErr)
	}

	log.Warn().Str("host", c.target.Host).Err(tlsErr).Msg("FTPS unavailable, retrying over plaintext FTP")
	conn, plainErr := c.connectAndLogin(ctx, c.dialPlain, addr)
	if plainErr != nil {
		return classifyFTPError(plainErr)
	}
	c.conn = conn
	return nil
}

func (c *ftpClient) connectAndLogin(ctx context.Context, dial func(context.Context, string) (ftpConn, error), addr string) (ftpConn, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(c.target.Username, c.target.Password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

func (c *ftpClient) Disconnect() {
	if c.conn != nil {
		if err := c.conn.Quit(); err != nil {
			log.Debug().Err(err).Msg("FTP quit returned an error")
		}
		c.conn = nil
	}
}

func (c *ftpClient) TestConnection(ctx context.Context) (bool, string) {
	if err := c.Connect(ctx); err != nil {
		return false, err.Error()
	}
	c.Disconnect()
	return true, "connection established"
}

// ProbeDir checks the path by changing into it and restoring the previous
// working directory; plain FTP has no stat.
func (c *ftpClient) ProbeDir(remotePath string) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}
	cwd, err := c.conn.CurrentDir()
	if err != nil {
		return fmt.Errorf("%w: reading working directory: %v", ErrProtocol, err)
	}
	if err := c.conn.ChangeDir(remotePath); err != nil {
		return fmt.Errorf("%w: remote path %q not accessible: %v", ErrValidation, remotePath, err)
	}
	if err := c.conn.ChangeDir(cwd); err != nil {
		return fmt.Errorf("%w: restoring working directory %q: %v", ErrProtocol, cwd, err)
	}
	return nil
}

func (c *ftpClient) ListDir(remotePath string) ([]Entry, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrConnection)
	}
	raw, err := c.conn.List(remotePath)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		switch e.Type {
		case ftp.EntryTypeFile, ftp.EntryTypeFolder:
			entries = append(entries, Entry{
				Name:  e.Name,
				Path:  path.Join(remotePath, e.Name),
				IsDir: e.Type == ftp.EntryTypeFolder,
				Size:  int64(e.Size),
			})
		default:
			log.Debug().Str("name", e.Name).Msg("Skipping non-regular directory entry")
		}
	}
	return entries, nil
}

func (c *ftpClient) FetchFile(remotePath, localPath string) (int64, error) {
	if c.conn == nil {
		return 0, fmt.Errorf("%w: not connected", ErrConnection)
	}
	src, err := c.conn.Retr(remotePath)
	if err != nil {
		return 0, fmt.Errorf("retrieving remote file: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating local directory: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("creating local file: %w", err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("writing %s: %w", localPath, err)
	}
	return written, nil
}

// requiresTLS reports whether an upgrade failure indicates the server insists
// on TLS, ruling out a plaintext retry.
func requiresTLS(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range mandatoryTLSMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyFTPError folds a server reply into the package taxonomy. Replies
// surface as textproto errors carrying the FTP status code.
func classifyFTPError(err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		if reply.Code == ftp.StatusNotLoggedIn {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
