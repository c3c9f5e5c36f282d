// Package cargo invokes the external build system and discovers what it
// produced.
//
// cargo itself stays a black box: its stdout and stderr are streamed through
// untouched so diagnostics interleave with the terminal exactly as they
// would without this tool, and its exit status is propagated unchanged.
package cargo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/rust3ds/cargo-3ds/internal/config"
)

// BuildError carries the child build system's exit code so the process can
// exit with the same status.
type BuildError struct {
	Code int
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("cargo exited with status %d", e.Code)
}

// Invoker runs cargo with the cross-compilation environment applied.
type Invoker struct {
	// Bin is the cargo executable; defaults from $CARGO.
	Bin string

	Env *config.BuildEnvironment

	// BuildStd adds `-Z build-std` when the sysroot ships no pre-built std
	// for the target.
	BuildStd bool

	Log *zap.Logger
}

func NewInvoker(env *config.BuildEnvironment, buildStd bool, log *zap.Logger) *Invoker {
	return &Invoker{
		Bin:      config.CargoBinary(),
		Env:      env,
		BuildStd: buildStd,
		Log:      log,
	}
}

// Run executes `cargo <subcommand> --target <triple> <buildArgs>` and blocks
// for its full duration. A non-zero exit comes back as *BuildError with the
// child's code; nothing downstream should run after that.
func (inv *Invoker) Run(ctx context.Context, subcommand string, buildArgs []string) error {
	argv := []string{subcommand}
	if inv.BuildStd {
		inv.Log.Info("no pre-built std for target, using build-std")
		argv = append(argv, "-Z", "build-std")
	}
	argv = append(argv, "--target", inv.Env.TargetTriple)
	argv = append(argv, buildArgs...)

	inv.Log.Debug("invoking cargo",
		zap.String("bin", inv.Bin),
		zap.Strings("args", argv))

	cmd := exec.CommandContext(ctx, inv.Bin, argv...)
	cmd.Env = inv.Env.Environ()
	return inv.wait(cmd)
}

// Passthrough hands an unrecognized subcommand to cargo with the original
// token list, unmodified and without the cross-compilation environment: no
// tool semantics apply.
func (inv *Invoker) Passthrough(ctx context.Context, name string, tail []string) error {
	inv.Log.Debug("forwarding to cargo", zap.String("subcommand", name))

	cmd := exec.CommandContext(ctx, inv.Bin, append([]string{name}, tail...)...)
	return inv.wait(cmd)
}

func (inv *Invoker) wait(cmd *exec.Cmd) error {
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &BuildError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("running %s: %w", inv.Bin, err)
}
