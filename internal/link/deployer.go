// Package link transfers a packaged executable to a device and optionally
// keeps the link alive for repeated deployments.
//
// The wire protocol belongs to the external 3dslink utility; this package
// owns everything around it: resolving an address, bounding connection
// retries, classifying failures, and the cancellable listen of server mode.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDeviceNotFound means auto-discovery timed out without an answer.
	ErrDeviceNotFound = errors.New("no device found")

	// ErrConnectionExhausted means every allowed connection attempt failed.
	ErrConnectionExhausted = errors.New("connection attempts exhausted")

	// ErrTransferAborted means the transfer itself failed after a
	// connection was established. It is never retried automatically: a
	// half-sent payload needs a deliberate fresh cycle, not a blind rerun.
	ErrTransferAborted = errors.New("transfer aborted")
)

// State tracks deployment progress, mostly for logging and tests.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateConnecting
	StateTransferring
	StateRunning
	StateListening
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateTransferring:
		return "transferring"
	case StateRunning:
		return "running"
	case StateListening:
		return "listening"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options mirror the deploy flags of one invocation.
type Options struct {
	// Address of the device; empty requests auto-discovery.
	Address string

	// Argv0 override for the executable on the device.
	Argv0 string

	// Server keeps listening for further deployments after success.
	Server bool

	// Retries is the number of additional connection attempts after the
	// first: 0 means exactly one attempt.
	Retries uint

	// Args are forwarded to the executable once it starts on the device.
	Args []string
}

// Transport abstracts the device link so the deployment state machine can
// be exercised without a device. The production implementation shells out
// to 3dslink.
type Transport interface {
	// Discover finds a device on the local network. It respects the
	// context deadline.
	Discover(ctx context.Context) (string, error)

	// Connect establishes one connection attempt to addr.
	Connect(ctx context.Context, addr string, opts Options) (Session, error)
}

// Session is one established device connection.
type Session interface {
	// Send streams the executable and optional argv0 to the device.
	Send(ctx context.Context, path string) error

	// Serve blocks, accepting further deployments, until ctx is cancelled.
	Serve(ctx context.Context) error

	Close() error
}

// DiscoveryTimeout bounds auto-discovery.
const DiscoveryTimeout = 10 * time.Second

// Deployer drives one artifact through the device link.
type Deployer struct {
	Transport Transport
	Log       *zap.Logger

	// Delay between connection attempts.
	Delay time.Duration

	mu    sync.Mutex
	state State
}

func NewDeployer(transport Transport, log *zap.Logger) *Deployer {
	return &Deployer{
		Transport: transport,
		Log:       log,
		Delay:     time.Second,
	}
}

// State reports the deployer's last state transition.
func (d *Deployer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Deployer) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	d.Log.Debug("deploy state", zap.Stringer("state", s))
}

// Deploy resolves a device, connects with bounded retries, transfers path,
// and either returns immediately on success or, in server mode, blocks
// listening until ctx is cancelled.
func (d *Deployer) Deploy(ctx context.Context, path string, opts Options) error {
	addr, err := d.resolve(ctx, opts)
	if err != nil {
		d.setState(StateFailed)
		return err
	}

	session, err := d.connect(ctx, addr, opts)
	if err != nil {
		d.setState(StateFailed)
		return err
	}
	defer session.Close()

	d.setState(StateTransferring)
	if err := session.Send(ctx, path); err != nil {
		d.setState(StateFailed)
		return fmt.Errorf("%w: %v", ErrTransferAborted, err)
	}

	if opts.Server {
		d.setState(StateListening)
		d.Log.Info("transfer complete, listening for the next deployment")
		return session.Serve(ctx)
	}

	d.setState(StateRunning)
	d.Log.Info("transfer complete")
	return nil
}

func (d *Deployer) resolve(ctx context.Context, opts Options) (string, error) {
	d.setState(StateResolving)
	if opts.Address != "" {
		return opts.Address, nil
	}

	d.Log.Info("no address given, discovering device", zap.Duration("timeout", DiscoveryTimeout))
	dctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	addr, err := d.Transport.Discover(dctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	return addr, nil
}

// connect makes up to opts.Retries+1 attempts, pausing between them. A
// retry never overlaps a previous attempt.
func (d *Deployer) connect(ctx context.Context, addr string, opts Options) (Session, error) {
	attempts := opts.Retries + 1

	var lastErr error
	for attempt := uint(0); attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrConnectionExhausted, ctx.Err())
			case <-time.After(d.Delay):
			}
		}

		d.setState(StateConnecting)
		session, err := d.Transport.Connect(ctx, addr, opts)
		if err == nil {
			return session, nil
		}
		lastErr = err
		d.Log.Warn("connection attempt failed",
			zap.Uint("attempt", attempt+1),
			zap.Uint("of", attempts),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w after %d attempt(s): %v", ErrConnectionExhausted, attempts, lastErr)
}
