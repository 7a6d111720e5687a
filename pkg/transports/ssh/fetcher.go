package ssh

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Fetcher downloads files from a target host over SFTP.
type Fetcher struct {
	config Config
}

// NewFetcher creates a fetcher for the given connection config.
func NewFetcher(cfg Config) *Fetcher {
	return &Fetcher{config: cfg}
}

// FetchArtifact downloads the file at remotePath and returns its
// contents. Used to retrieve the conventional on-host credentials
// artifact of a known service after a successful run.
func (f *Fetcher) FetchArtifact(ctx context.Context, remotePath string) ([]byte, error) {
	clientCfg, err := f.config.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", f.config.Host, f.config.Port)
	log.Debug().Str("addr", addr).Str("path", remotePath).Msg("fetching credential artifact")

	conn, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, &TransportError{
			Op:          "dial",
			Err:         err,
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer conn.Close()

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
			IsAuthError: false,
		}
	}
	defer sftpClient.Close()

	type fetchResult struct {
		data []byte
		err  error
	}
	done := make(chan fetchResult, 1)
	go func() {
		file, err := sftpClient.Open(remotePath)
		if err != nil {
			done <- fetchResult{err: &TransportError{Op: "open", Err: err}}
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			done <- fetchResult{err: &TransportError{Op: "read", Err: err, IsTemporary: true}}
			return
		}
		done <- fetchResult{data: data}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}
