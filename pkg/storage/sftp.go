package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SFTPConfig describes the shared SFTP server used for transfers.
type SFTPConfig struct {
	// Address is the host:port of the SFTP server.
	Address string `yaml:"address" validate:"required"`

	// User is the login name.
	User string `yaml:"user" validate:"required"`

	// PrivateKeyPath points to the PEM-encoded private key.
	PrivateKeyPath string `yaml:"private_key_path" validate:"required"`

	// BaseDir is the remote directory holding published files.
	BaseDir string `yaml:"base_dir"`

	// PublicURL is the address providers use to reach the same server.
	// Defaults to "sftp://<address>".
	PublicURL string `yaml:"public_url"`

	// ConnectTimeout bounds the SSH handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// Validate checks the config against its struct tags.
func (c SFTPConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}
	return nil
}

// SFTPProvider publishes transfer payloads on a shared SFTP server. One SSH
// connection is held open and shared; per-file handles are short-lived.
type SFTPProvider struct {
	cfg SFTPConfig
	log zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

// NewSFTPProvider validates the config and returns an unconnected provider.
// The connection is established lazily on first use.
func NewSFTPProvider(cfg SFTPConfig, log zerolog.Logger) (*SFTPProvider, error) {
	if cfg.Address == "" || cfg.User == "" || cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("sftp storage: address, user and private_key_path are required")
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = "gridnode"
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "sftp://" + cfg.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SFTPProvider{
		cfg: cfg,
		log: log.With().Str("component", "storage").Str("address", cfg.Address).Logger(),
	}, nil
}

func (p *SFTPProvider) client() (*sftp.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sftp != nil {
		return p.sftp, nil
	}

	keyBytes, err := os.ReadFile(p.cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            p.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.ConnectTimeout,
	}
	conn, err := ssh.Dial("tcp", p.cfg.Address, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.cfg.Address, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	if err := client.MkdirAll(p.cfg.BaseDir); err != nil {
		client.Close()
		conn.Close()
		return nil, fmt.Errorf("create base dir %s: %w", p.cfg.BaseDir, err)
	}

	p.conn = conn
	p.sftp = client
	p.log.Debug().Msg("storage connected")
	return client, nil
}

// Upload implements Provider.
func (p *SFTPProvider) Upload(ctx context.Context, r io.Reader) (Source, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	remotePath := path.Join(p.cfg.BaseDir, uuid.NewString())
	f, err := client.Create(remotePath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", remotePath, err)
	}
	n, err := copyWithContext(ctx, f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		client.Remove(remotePath)
		return nil, fmt.Errorf("upload %s: %w", remotePath, err)
	}

	p.log.Debug().Str("path", remotePath).Int64("bytes", n).Msg("payload published")
	return &sftpFile{provider: p, path: remotePath}, nil
}

// NewDestination implements Provider.
func (p *SFTPProvider) NewDestination(ctx context.Context) (Destination, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	remotePath := path.Join(p.cfg.BaseDir, uuid.NewString())
	f, err := client.Create(remotePath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create %s: %w", remotePath, err)
	}
	return &sftpFile{provider: p, path: remotePath}, nil
}

// Close shuts the shared connection down.
func (p *SFTPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.sftp != nil {
		err = p.sftp.Close()
		p.sftp = nil
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// sftpFile is one published remote file, usable as both Source and
// Destination.
type sftpFile struct {
	provider *SFTPProvider
	path     string
}

func (f *sftpFile) URL() string {
	return f.provider.cfg.PublicURL + "/" + f.path
}

func (f *sftpFile) Open(ctx context.Context) (io.ReadCloser, error) {
	client, err := f.provider.client()
	if err != nil {
		return nil, err
	}
	r, err := client.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.path, err)
	}
	return r, nil
}

func (f *sftpFile) Bytes(ctx context.Context, limit int64) ([]byte, error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("download %s: content exceeds %d bytes", f.path, limit)
	}
	return data, nil
}

func (f *sftpFile) Close(ctx context.Context) error {
	client, err := f.provider.client()
	if err != nil {
		return err
	}
	if err := client.Remove(f.path); err != nil {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}

// copyWithContext copies r into w, aborting between chunks once ctx is
// cancelled.
func copyWithContext(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
