// Package ssh downloads generated credential artifacts from target
// hosts after a run, using the same connection material the run used.
package ssh

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/opsforge/opsforge/pkg/engine"
)

// Config holds the connection settings for one target host.
type Config struct {
	// Host is the hostname or IP of the target.
	Host string

	// Port is the SSH port.
	Port int

	// User is the login user.
	User string

	// Password is the login password, when password auth is used.
	Password string

	// PrivateKey is the PEM-encoded private key, when key auth is used.
	PrivateKey string

	// Timeout bounds the connection attempt.
	Timeout time.Duration
}

// TransportError is a classified SSH transport failure.
type TransportError struct {
	// Op is the operation that failed.
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the failure may succeed on retry.
	IsTemporary bool

	// IsAuthError indicates an authentication failure.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigForHost builds a transport config from a run's target host.
func ConfigForHost(h engine.TargetHost) Config {
	return Config{
		Host:       h.Address,
		Port:       h.SSHPort(),
		User:       h.User,
		Password:   h.Password,
		PrivateKey: h.PrivateKey,
		Timeout:    30 * time.Second,
	}
}

// clientConfig builds the crypto/ssh client configuration. Target
// hosts are newly provisioned with no known host key, so host-key
// verification is disabled, matching the engine's connection contract.
func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	user := c.User
	if user == "" {
		user = "root"
	}

	var auth []ssh.AuthMethod
	if c.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.PrivateKey))
		if err != nil {
			return nil, &TransportError{
				Op:          "parse-key",
				Err:         err,
				IsTemporary: false,
				IsAuthError: true,
			}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, ssh.Password(c.Password))
	}
	if len(auth) == 0 {
		return nil, &TransportError{
			Op:          "configure",
			Err:         fmt.Errorf("no authentication material"),
			IsTemporary: false,
			IsAuthError: true,
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // targets have no known host key
		Timeout:         c.Timeout,
	}, nil
}
