// Package tunnel forwards a local TCP port to the database host through an
// SSH bastion.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/logger"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// DefaultRemotePort is the Firebird server port.
const DefaultRemotePort = 3050

const dialTimeout = 30 * time.Second

// Tunnel is an open port forward. Close it when the run ends.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	logger   *zap.Logger

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Open connects to the bastion and starts forwarding cfg.LocalPort on
// 127.0.0.1 to cfg.RemoteHost:cfg.RemotePort.
func Open(ctx context.Context, cfg core.SSHParameters) (*Tunnel, error) {
	signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindConfiguration, "Unable to parse SSH private key")
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // bastion host keys are not part of the configuration
		Timeout:         dialTimeout,
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	bastion := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	client, err := dial(ctx, bastion, clientConfig)
	if err != nil {
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindTransient, "Unable to create SSH tunnel").
			WithDetail("ssh_host", bastion)
	}

	local := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.LocalPort))
	listener, err := net.Listen("tcp", local)
	if err != nil {
		_ = client.Close()
		return nil, nebulaerrors.Wrap(err, nebulaerrors.KindFatal, "Unable to listen for SSH tunnel").
			WithDetail("local", local)
	}

	remotePort := cfg.RemotePort
	if remotePort == 0 {
		remotePort = DefaultRemotePort
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		remote:   net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(remotePort)),
		logger:   logger.Get().With(zap.String("component", "ssh_tunnel")),
		closed:   make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	t.logger.Info("SSH tunnel established",
		zap.String("ssh_host", bastion),
		zap.String("local", local),
		zap.String("remote", t.remote))
	return t, nil
}

func dial(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// LocalAddr returns the address the database driver should connect to.
func (t *Tunnel) LocalAddr() *net.TCPAddr {
	return t.listener.Addr().(*net.TCPAddr)
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()

	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("accepting tunnel connection failed", zap.Error(err))
			continue
		}

		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.logger.Error("dialing through SSH tunnel failed", zap.String("remote", t.remote), zap.Error(err))
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst io.Writer, src io.Reader) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)

	select {
	case <-done:
	case <-t.closed:
	}
}

// Close stops forwarding and disconnects from the bastion.
func (t *Tunnel) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		err = t.listener.Close()
		if cerr := t.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.wg.Wait()
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing SSH tunnel: %w", err)
	}
	return nil
}
