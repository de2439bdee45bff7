// Package filetransfer publishes the results tree to an archive host
// over SSH/SFTP once a run completes. Publishing is optional and
// best-effort; the on-disk artifacts remain the source of truth.
package filetransfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	// DefaultConnectTimeout is the default timeout for establishing SSH connections
	DefaultConnectTimeout = 30 * time.Second
)

// Credentials holds SSH connection details for the archive host
type Credentials struct {
	Host    string
	Port    int
	User    string
	KeyPath string // path to a PEM-encoded private key
}

// Validate checks that the credentials have all required fields
func (c *Credentials) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("key path cannot be empty")
	}
	return nil
}

// Publisher uploads result artifacts over SSH/SFTP
type Publisher struct {
	creds          Credentials
	connectTimeout time.Duration
}

// Option configures a Publisher instance
type Option func(*Publisher)

// WithConnectTimeout sets the connection timeout
func WithConnectTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.connectTimeout = d
	}
}

// New creates a new Publisher with the given credentials
func New(creds Credentials, opts ...Option) *Publisher {
	p := &Publisher{
		creds:          creds,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishDir uploads every regular file under localDir to remoteDir,
// preserving the relative layout, over a single SSH session.
func (p *Publisher) PublishDir(ctx context.Context, localDir, remoteDir string) error {
	if localDir == "" {
		return fmt.Errorf("local dir cannot be empty")
	}
	if remoteDir == "" {
		return fmt.Errorf("remote dir cannot be empty")
	}

	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("failed to stat local dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local path is not a directory")
	}

	client, err := p.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("failed to create sftp client: %w", err)
	}
	defer sftpClient.Close()

	return filepath.WalkDir(localDir, func(localPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}
		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))

		if err := p.uploadFile(ctx, sftpClient, localPath, remotePath); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		return nil
	})
}

func (p *Publisher) uploadFile(ctx context.Context, sftpClient *sftp.Client, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	if dir := path.Dir(remotePath); dir != "" && dir != "." && dir != "/" {
		// Parent directories might already exist
		_ = sftpClient.MkdirAll(dir)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	// Copy with context cancellation support
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, localFile)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to copy file: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	}
}

// connect establishes an SSH connection to the archive host
func (p *Publisher) connect(ctx context.Context) (*ssh.Client, error) {
	if err := p.creds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", err)
	}

	key, err := os.ReadFile(p.creds.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	config := &ssh.ClientConfig{
		User: p.creds.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Archive hosts are lab machines with rotating keys
		Timeout:         p.connectTimeout,
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	addr := fmt.Sprintf("%s:%d", p.creds.Host, p.creds.Port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return client, nil
}
