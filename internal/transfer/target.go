package transfer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// connectTimeout bounds the TCP dial and the protocol handshake for every
// client variant.
const connectTimeout = 30 * time.Second

// Protocol identifies the wire protocol used to reach a backup source. The
// set is closed: construction goes through ParseProtocol, which rejects tags
// it does not know.
type Protocol string

const (
	ProtocolSFTP Protocol = "SFTP"
	ProtocolFTP  Protocol = "FTP"
)

// ParseProtocol maps a stored protocol tag to its Protocol. "SSH" is accepted
// as an alias for SFTP since the transfer runs over an SSH session, and
// "FTPS" as an alias for FTP since the TLS upgrade is negotiated per
// connection rather than configured.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SFTP", "SSH":
		return ProtocolSFTP, nil
	case "FTP", "FTPS":
		return ProtocolFTP, nil
	default:
		return "", fmt.Errorf("%w: unsupported protocol %q", ErrValidation, s)
	}
}

// DefaultPort returns the conventional port for the protocol.
func (p Protocol) DefaultPort() int {
	if p == ProtocolFTP {
		return 21
	}
	return 22
}

// Target describes one backup source and where its snapshots land. A Target
// is a value; the engine never mutates it during a run.
type Target struct {
	Host       string
	Port       int
	Protocol   Protocol
	Username   string
	Password   string
	KeyFile    string
	RemoteRoot string
	LocalRoot  string
}

// Addr returns the dialable host:port, applying the protocol's default port
// when none is set.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = t.Protocol.DefaultPort()
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Entry is one member of a remote directory listing.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// Client is the protocol-facing surface of the engine. A Client serves one
// run at a time; none of its methods are safe for concurrent use.
type Client interface {
	// Connect dials and authenticates. The returned error wraps one of the
	// package sentinels.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call repeatedly, on every
	// exit path, or before Connect ever succeeded.
	Disconnect()

	// TestConnection dials, authenticates, disconnects, and reports the
	// outcome as a flag plus a human-readable message.
	TestConnection(ctx context.Context) (bool, string)

	// ProbeDir verifies that path exists server-side and is a directory,
	// without transferring a listing.
	ProbeDir(path string) error

	// ListDir returns the immediate children of path.
	ListDir(path string) ([]Entry, error)

	// FetchFile copies one remote file to localPath, creating parent
	// directories as needed, and returns the number of bytes written.
	FetchFile(remotePath, localPath string) (int64, error)
}

// NewClient maps a target's protocol to its client implementation.
func NewClient(target Target) (Client, error) {
	switch target.Protocol {
	case ProtocolSFTP:
		return newSFTPClient(target), nil
	case ProtocolFTP:
		return newFTPClient(target), nil
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrValidation, string(target.Protocol))
	}
}
