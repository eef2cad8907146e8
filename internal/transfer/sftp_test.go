package transfer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}
	return keyPath
}

func TestAuthMethodsPrefersKeyFile(t *testing.T) {
	c := newSFTPClient(Target{Username: "u", Password: "also-set", KeyFile: writeTestKey(t)})
	methods, err := c.authMethods()
	if err != nil {
		t.Fatalf("authMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("methods = %d, want 1", len(methods))
	}
}

func TestAuthMethodsFallsBackToPasswordWhenKeyMissing(t *testing.T) {
	c := newSFTPClient(Target{Username: "u", Password: "secret", KeyFile: filepath.Join(t.TempDir(), "absent")})
	methods, err := c.authMethods()
	if err != nil {
		t.Fatalf("authMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("methods = %d, want 1", len(methods))
	}
}

func TestAuthMethodsRejectsGarbageKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	c := newSFTPClient(Target{Username: "u", KeyFile: keyPath})
	if _, err := c.authMethods(); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("authMethods error = %v, want ErrAuthentication", err)
	}
}

func TestAuthMethodsRequiresSomeCredential(t *testing.T) {
	c := newSFTPClient(Target{Username: "u"})
	if _, err := c.authMethods(); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("authMethods error = %v, want ErrAuthentication", err)
	}
}

func TestClassifySSHError(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]", ErrAuthentication},
		{"ssh: handshake failed: EOF", ErrProtocol},
		{"dial tcp 10.0.0.1:22: i/o timeout", ErrConnection},
	}
	for _, tc := range cases {
		got := classifySSHError(errors.New(tc.msg))
		if !errors.Is(got, tc.want) {
			t.Fatalf("classifySSHError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestSFTPMethodsRequireConnection(t *testing.T) {
	c := newSFTPClient(Target{Host: "example.com"})
	if err := c.ProbeDir("/x"); !errors.Is(err, ErrConnection) {
		t.Fatalf("ProbeDir error = %v, want ErrConnection", err)
	}
	if _, err := c.ListDir("/x"); !errors.Is(err, ErrConnection) {
		t.Fatalf("ListDir error = %v, want ErrConnection", err)
	}
	if _, err := c.FetchFile("/x", "/tmp/x"); !errors.Is(err, ErrConnection) {
		t.Fatalf("FetchFile error = %v, want ErrConnection", err)
	}
	// Disconnect before Connect is a no-op, not a panic.
	c.Disconnect()
}
