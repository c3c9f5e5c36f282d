// Command cargo-3ds wraps cargo to build, package, and deploy Nintendo 3DS
// homebrew. Recognized subcommands (build, run, test) get the
// cross-compilation environment and the packaging pipeline; anything else
// is forwarded to cargo untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rust3ds/cargo-3ds/internal/args"
	"github.com/rust3ds/cargo-3ds/internal/bundle"
	"github.com/rust3ds/cargo-3ds/internal/cargo"
	"github.com/rust3ds/cargo-3ds/internal/rustc"
)

// version is stamped by the release build.
var version = "dev"

var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "cargo-3ds",
	Short: "Build, package, and deploy Rust code for the Nintendo 3DS",
	Long: `cargo-3ds wraps cargo for the armv6k-nintendo-3ds target.

build, run, and test cross-compile with the devkitPro toolchain and package
the result into a .3dsx executable. run and test additionally send it to a
device over the network with 3dslink. Any other subcommand is passed
through to cargo unchanged.

Arguments before the first "--" that this tool does not recognize are
forwarded to cargo; arguments after a second "--" are forwarded to the
executable running on the device.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return initLogger()
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

var buildCmd = &cobra.Command{
	Use:                "build [CARGO_ARGS...]",
	Short:              "Cross-compile and package every fresh executable as .3dsx",
	DisableFlagParsing: true,
	RunE:               runClassified,
}

var runCmd = &cobra.Command{
	Use:                "run [FLAGS...] [CARGO_ARGS...] [-- EXE_ARGS...]",
	Short:              "Build, package, and send the executable to a device",
	Long: `run builds the project, packages the resulting executable, and sends it
to a 3DS over the network.

Flags:
  -a, --address <addr>   device address (default: auto-discover)
  -0, --argv0 <value>    override the executable's argv[0] on the device
  -s, --server           keep the link open after a successful transfer
  -w, --watch            rebuild and resend when sources change
      --retries <n>      extra connection attempts after the first (default 3)`,
	DisableFlagParsing: true,
	RunE:               runClassified,
}

var testCmd = &cobra.Command{
	Use:                "test [FLAGS...] [CARGO_ARGS...] [-- EXE_ARGS...]",
	Short:              "Build the test executable and send it to a device",
	Long: `test builds the test executable without running it locally and deploys
it like run does. Passing --no-run skips the deployment and only builds.
Deploy flags match run.`,
	DisableFlagParsing: true,
	RunE:               runClassified,
}

// runClassified is shared by the recognized subcommands: the raw tail is
// classified by our own scanner since cargo's flag set is open-ended and
// cobra's parser cannot split it.
func runClassified(cmd *cobra.Command, rawArgs []string) error {
	inv, err := args.Classify(append([]string{cmd.Name()}, rawArgs...))
	if err != nil {
		// A malformed command line gets the usage text along with the error.
		fmt.Fprintln(cmd.ErrOrStderr(), cmd.UsageString())
		return err
	}
	if inv.Deploy.ShowHelp {
		return cmd.Help()
	}
	if inv.Deploy.ShowVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "cargo-3ds %s\n", version)
		return nil
	}
	return runPipeline(cmd.Context(), inv, logger)
}

func initLogger() error {
	if logger != nil {
		return nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if os.Getenv("CARGO_3DS_VERBOSE") != "" {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	var err error
	logger, err = cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(buildCmd, runCmd, testCmd)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(argv) > 0 && (argv[0] == "-V" || argv[0] == "--version") {
		fmt.Println("cargo-3ds", version)
		return 0
	}
	if !recognized(argv) {
		return passthrough(ctx, argv)
	}

	rootCmd.SetArgs(argv)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

// recognized reports whether the first token routes to this tool's own
// commands. Everything else bypasses cobra entirely so cargo sees the
// original command line, unknown flags included.
func recognized(argv []string) bool {
	if len(argv) == 0 {
		return true
	}
	switch argv[0] {
	case "build", "run", "test", "help", "-h", "--help", "-V", "--version", "completion":
		return true
	}
	return false
}

func passthrough(ctx context.Context, argv []string) int {
	if err := initLogger(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer logger.Sync()

	inv, err := args.Classify(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 2
	}

	// Even forwarded subcommands run against the gated toolchain: a stable
	// or outdated rustc fails here with instructions instead of deep inside
	// cargo.
	meta, err := rustc.Probe(ctx)
	if err == nil {
		err = rustc.Check(meta)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	invoker := cargo.NewInvoker(nil, false, logger)
	if err := invoker.Passthrough(ctx, inv.Name, inv.Tail); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error to the process exit status: child tools propagate
// their own status, malformed command lines exit 2, everything else 1.
func exitCode(err error) int {
	var buildErr *cargo.BuildError
	if errors.As(err, &buildErr) {
		return buildErr.Code
	}
	var toolErr *bundle.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Code
	}
	if errors.Is(err, args.ErrAmbiguous) {
		return 2
	}
	return 1
}
