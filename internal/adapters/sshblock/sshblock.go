// SPDX-License-Identifier: LGPL-3.0-or-later

// Package sshblock implements the §6 input adapter contract for a disk
// image sitting on a remote host, reachable over SFTP. It mirrors its
// remote file locally under a bandwidth cap before handing back a
// file:// URI, since qemu-img cannot read an sftp:// URI directly.
package sshblock

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/time/rate"

	"hyperv2kvm/internal/logger"
	"hyperv2kvm/internal/model"
)

// Config describes the remote host and the single disk image path to
// pull from it.
type Config struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
	Password       string
	KnownHostsPath string

	RemotePath string // remote disk image path
	VMName     string
	MemoryKiB  uint64
	VCPUs      uint

	LocalStagingDir string
}

// Adapter copies one remote block device / disk image to local staging
// over SFTP, then presents it as a SourceDisk.
type Adapter struct {
	cfg Config
	log logger.Logger

	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

func New(cfg Config, log logger.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

func (a *Adapter) AsOptions() string {
	return fmt.Sprintf("sshblock(%s@%s:%d)", a.cfg.User, a.cfg.Host, a.cfg.Port)
}

// Precheck dials the SSH host and opens an SFTP session, verifying the
// host key against known_hosts the same way the teacher's SFTPStorage
// constructor does.
func (a *Adapter) Precheck(ctx context.Context) error {
	var auth []ssh.AuthMethod
	if a.cfg.Password != "" {
		auth = append(auth, ssh.Password(a.cfg.Password))
	}
	if a.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(a.cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return fmt.Errorf("sshblock: no authentication method configured (password or private key required)")
	}

	hostKeyCallback, err := hostKeyCallback(a.cfg.KnownHostsPath)
	if err != nil {
		return fmt.Errorf("setup host key verification: %w", err)
	}

	port := a.cfg.Port
	if port == 0 {
		port = 22
	}
	clientCfg := &ssh.ClientConfig{
		User:            a.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}
	sshClient, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", a.cfg.Host, port), clientCfg)
	if err != nil {
		return fmt.Errorf("ssh dial %s: %w", a.cfg.Host, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("open sftp session: %w", err)
	}

	a.sshClient = sshClient
	a.sftpClient = sftpClient
	return nil
}

func hostKeyCallback(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}

// Source copies the remote disk into local staging through a rate
// limiter built from bandwidthLimitBps (§6 source(bandwidth)), then
// returns a file:// URI pointing at the staged copy.
func (a *Adapter) Source(ctx context.Context, bandwidthLimitBps int64) (*model.Source, []model.SourceDisk, error) {
	if a.sftpClient == nil {
		return nil, nil, fmt.Errorf("sshblock adapter: Precheck was not called")
	}

	stagingDir := a.cfg.LocalStagingDir
	if stagingDir == "" {
		var err error
		stagingDir, err = os.MkdirTemp("", "hyperv2kvm-sshblock-")
		if err != nil {
			return nil, nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	localPath := filepath.Join(stagingDir, filepath.Base(a.cfg.RemotePath))

	if err := a.copyWithLimit(ctx, a.cfg.RemotePath, localPath, bandwidthLimitBps); err != nil {
		return nil, nil, err
	}

	src := model.Source{
		Name:       a.cfg.VMName,
		Hypervisor: model.OtherHypervisor("remote-block"),
		MemoryKiB:  a.cfg.MemoryKiB,
		VCPUs:      a.cfg.VCPUs,
		Video:      model.VideoStandard,
		Firmware:   model.FirmwareBIOS,
	}
	disks := []model.SourceDisk{{
		ID:             0,
		URI:            "file://" + localPath,
		DeclaredFormat: "raw",
		Controller:     model.ControllerIDE,
	}}
	return &src, disks, nil
}

// copyWithLimit streams the remote file through a token-bucket limiter
// so a slow management-network link doesn't get saturated.
func (a *Adapter) copyWithLimit(ctx context.Context, remotePath, localPath string, bandwidthLimitBps int64) error {
	remote, err := a.sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer remote.Close()

	info, err := remote.Stat()
	if err != nil {
		return fmt.Errorf("stat remote %s: %w", remotePath, err)
	}

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local staging file: %w", err)
	}
	defer local.Close()

	a.log.Info("staging remote disk via sftp", "host", a.cfg.Host, "remote", remotePath, "size", info.Size())

	var reader io.Reader = remote
	if bandwidthLimitBps > 0 {
		reader = &rateLimitedReader{ctx: ctx, r: remote, limiter: rate.NewLimiter(rate.Limit(bandwidthLimitBps), int(bandwidthLimitBps))}
	}
	if _, err := io.Copy(local, reader); err != nil {
		return fmt.Errorf("copy remote %s: %w", remotePath, err)
	}
	return nil
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := rl.r.Read(p)
	if n > 0 {
		if werr := rl.limiter.WaitN(rl.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
