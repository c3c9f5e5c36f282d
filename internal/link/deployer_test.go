package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockTransport scripts a device link for the state machine tests.
type mockTransport struct {
	discoverAddr string
	discoverErr  error

	// connectFailures is the number of attempts that fail before one
	// succeeds.
	connectFailures int
	connectCalls    int

	sendErr   error
	sendCalls int
	sentPath  string

	serveCalls int
}

func (m *mockTransport) Discover(ctx context.Context) (string, error) {
	if m.discoverErr != nil {
		return "", m.discoverErr
	}
	if m.discoverAddr == "" {
		// Simulate a silent network: block until the discovery deadline.
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.discoverAddr, nil
}

func (m *mockTransport) Connect(ctx context.Context, addr string, opts Options) (Session, error) {
	m.connectCalls++
	if m.connectCalls <= m.connectFailures {
		return nil, errors.New("connection refused")
	}
	return &mockSession{t: m}, nil
}

type mockSession struct {
	t *mockTransport
}

func (s *mockSession) Send(ctx context.Context, path string) error {
	s.t.sendCalls++
	s.t.sentPath = path
	return s.t.sendErr
}

func (s *mockSession) Serve(ctx context.Context) error {
	s.t.serveCalls++
	<-ctx.Done()
	return nil
}

func (s *mockSession) Close() error { return nil }

func newTestDeployer(t *testing.T, transport Transport) *Deployer {
	t.Helper()
	d := NewDeployer(transport, zaptest.NewLogger(t))
	d.Delay = time.Millisecond
	return d
}

func TestDeploy_ExplicitAddressSkipsDiscovery(t *testing.T) {
	m := &mockTransport{discoverErr: errors.New("discovery must not run")}
	d := newTestDeployer(t, m)

	err := d.Deploy(context.Background(), "app.3dsx", Options{Address: "10.0.0.5"})
	require.NoError(t, err)
	assert.Equal(t, "app.3dsx", m.sentPath)
	assert.Equal(t, StateRunning, d.State())
}

func TestDeploy_DiscoveryFailure(t *testing.T) {
	m := &mockTransport{discoverErr: errors.New("timed out")}
	d := newTestDeployer(t, m)

	err := d.Deploy(context.Background(), "app.3dsx", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
	assert.Equal(t, StateFailed, d.State())
	assert.Zero(t, m.connectCalls, "no connection attempt without an address")
}

func TestDeploy_DiscoverySuccess(t *testing.T) {
	m := &mockTransport{discoverAddr: "192.168.1.42"}
	d := newTestDeployer(t, m)

	require.NoError(t, d.Deploy(context.Background(), "app.3dsx", Options{}))
	assert.Equal(t, 1, m.sendCalls)
}

func TestDeploy_ZeroRetriesMeansOneAttempt(t *testing.T) {
	m := &mockTransport{connectFailures: 1}
	d := newTestDeployer(t, m)

	err := d.Deploy(context.Background(), "app.3dsx", Options{Address: "10.0.0.5", Retries: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionExhausted))
	assert.Equal(t, 1, m.connectCalls)
}

func TestDeploy_RetryBudgetExact(t *testing.T) {
	t.Run("succeeds within budget", func(t *testing.T) {
		m := &mockTransport{connectFailures: 2}
		d := newTestDeployer(t, m)

		err := d.Deploy(context.Background(), "app.3dsx", Options{Address: "10.0.0.5", Retries: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, m.connectCalls)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		m := &mockTransport{connectFailures: 10}
		d := newTestDeployer(t, m)

		err := d.Deploy(context.Background(), "app.3dsx", Options{Address: "10.0.0.5", Retries: 2})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnectionExhausted))
		assert.Equal(t, 3, m.connectCalls, "retries=2 allows exactly 3 attempts")
		assert.Zero(t, m.sendCalls)
	})
}

func TestDeploy_TransferAbortedIsNotRetried(t *testing.T) {
	m := &mockTransport{sendErr: errors.New("link dropped mid-stream")}
	d := newTestDeployer(t, m)

	err := d.Deploy(context.Background(), "app.3dsx", Options{Address: "10.0.0.5", Retries: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransferAborted))
	assert.Equal(t, 1, m.connectCalls, "a failed transfer never re-enters the connect loop")
	assert.Equal(t, 1, m.sendCalls)
	assert.Equal(t, StateFailed, d.State())
}

func TestDeploy_ServerModeBlocksUntilCancelled(t *testing.T) {
	m := &mockTransport{}
	d := newTestDeployer(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Deploy(ctx, "app.3dsx", Options{Address: "10.0.0.5", Server: true})
	}()

	// Give the deployment time to reach the listening state, then cancel.
	require.Eventually(t, func() bool {
		return d.State() == StateListening
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server-mode deploy did not return after cancellation")
	}
	assert.Equal(t, 1, m.serveCalls)
}

func TestDeploy_CancelledDuringRetryWait(t *testing.T) {
	m := &mockTransport{connectFailures: 100}
	d := newTestDeployer(t, m)
	d.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := d.Deploy(ctx, "app.3dsx", Options{Address: "10.0.0.5", Retries: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionExhausted))
	assert.Equal(t, 1, m.connectCalls)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:         "idle",
		StateResolving:    "resolving",
		StateConnecting:   "connecting",
		StateTransferring: "transferring",
		StateRunning:      "running",
		StateListening:    "listening",
		StateFailed:       "failed",
	} {
		assert.Equal(t, want, s.String())
	}
}
