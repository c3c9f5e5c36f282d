package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// netloaderPort is the TCP port the device's netloader listens on.
const netloaderPort = 17491

// Tool is the production Transport, backed by the external 3dslink
// utility. The wire protocol stays inside the tool; Tool only decides when
// to run it and how to read its exit status.
type Tool struct {
	Bin  string
	Port int
	Log  *zap.Logger
}

func NewTool(log *zap.Logger) *Tool {
	return &Tool{Bin: "3dslink", Port: netloaderPort, Log: log}
}

// Discover defers to the tool: given no address, 3dslink performs the
// discovery broadcast itself during the transfer. Returning the empty
// address keeps that behavior without reimplementing the broadcast here.
func (t *Tool) Discover(ctx context.Context) (string, error) {
	return "", nil
}

// Connect probes the device's netloader port so each retry of the
// connection loop reflects a real reachability check. The transfer itself
// re-establishes its own connection inside the tool.
func (t *Tool) Connect(ctx context.Context, addr string, opts Options) (Session, error) {
	if addr != "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(t.Port)))
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		conn.Close()
	}
	return &toolSession{tool: t, addr: addr, opts: opts}, nil
}

type toolSession struct {
	tool *Tool
	addr string
	opts Options

	// cmd is the running tool in server mode, started by Send and waited
	// on by Serve.
	cmd *exec.Cmd
}

func (s *toolSession) argv(path string) []string {
	// The deployer owns retry pacing, so the tool gets exactly one try.
	argv := []string{path, "--retries", "0"}
	if s.addr != "" {
		argv = append(argv, "--address", s.addr)
	}
	if s.opts.Argv0 != "" {
		argv = append(argv, "--argv0", s.opts.Argv0)
	}
	if s.opts.Server {
		argv = append(argv, "--server")
	}
	// Anything after the flags is handed to the executable on the device.
	argv = append(argv, s.opts.Args...)
	return argv
}

func (s *toolSession) Send(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, s.tool.Bin, s.argv(path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	s.tool.Log.Debug("running 3dslink", zap.Strings("args", cmd.Args[1:]))

	if s.opts.Server {
		// One tool invocation both transfers and listens, so the process
		// is started here and waited on in Serve.
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting %s (is devkitPro's tools directory on PATH?): %w", s.tool.Bin, err)
		}
		s.cmd = cmd
		return nil
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s exited with status %d", s.tool.Bin, exitErr.ExitCode())
	}
	return fmt.Errorf("running %s (is devkitPro's tools directory on PATH?): %w", s.tool.Bin, err)
}

// Serve waits on the server-mode tool process. Cancellation kills the
// child; that is the expected way out and not an error. The tool reports a
// failed transfer through its exit status, so in server mode it surfaces
// here rather than in Send.
func (s *toolSession) Serve(ctx context.Context) error {
	if s.cmd == nil {
		<-ctx.Done()
		return nil
	}

	err := s.cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", s.tool.Bin, err)
	}
	return nil
}

func (s *toolSession) Close() error { return nil }
