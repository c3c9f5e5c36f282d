package cargo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rust3ds/cargo-3ds/internal/config"
)

// fakeCargo writes a shell stub that records its argv and exits with the
// given status.
func fakeCargo(t *testing.T, exitCode int) (bin, argvFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub")
	}

	dir := t.TempDir()
	bin = filepath.Join(dir, "cargo")
	argvFile = filepath.Join(dir, "argv")

	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > " + argvFile + "\nexit " + strconv.Itoa(exitCode) + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argvFile
}

func testBuildEnv(t *testing.T) *config.BuildEnvironment {
	t.Helper()
	t.Setenv("DEVKITPRO", t.TempDir())
	env, err := config.NewBuildEnvironment()
	require.NoError(t, err)
	return env
}

func TestInvokerRun_Success(t *testing.T) {
	bin, argvFile := fakeCargo(t, 0)
	inv := NewInvoker(testBuildEnv(t), false, zaptest.NewLogger(t))
	inv.Bin = bin

	require.NoError(t, inv.Run(context.Background(), "build", []string{"--release"}))

	argv, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "build\n--target\narmv6k-nintendo-3ds\n--release\n", string(argv))
}

func TestInvokerRun_BuildStd(t *testing.T) {
	bin, argvFile := fakeCargo(t, 0)
	inv := NewInvoker(testBuildEnv(t), true, zaptest.NewLogger(t))
	inv.Bin = bin

	require.NoError(t, inv.Run(context.Background(), "build", nil))

	argv, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	assert.Equal(t, "build\n-Z\nbuild-std\n--target\narmv6k-nintendo-3ds\n", string(argv))
}

func TestInvokerRun_ExitCodePropagated(t *testing.T) {
	bin, _ := fakeCargo(t, 101)
	inv := NewInvoker(testBuildEnv(t), false, zaptest.NewLogger(t))
	inv.Bin = bin

	err := inv.Run(context.Background(), "build", nil)
	require.Error(t, err)

	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	assert.Equal(t, 101, buildErr.Code)
}

func TestInvokerPassthrough_Verbatim(t *testing.T) {
	bin, argvFile := fakeCargo(t, 0)
	inv := NewInvoker(testBuildEnv(t), true, zaptest.NewLogger(t))
	inv.Bin = bin

	tail := []string{"--workspace", "--", "--fix"}
	require.NoError(t, inv.Passthrough(context.Background(), "clippy", tail))

	argv, err := os.ReadFile(argvFile)
	require.NoError(t, err)
	// No target triple, no build-std: the tail is forwarded untouched.
	assert.Equal(t, "clippy\n--workspace\n--\n--fix\n", string(argv))
}

func TestInvokerRun_MissingBinary(t *testing.T) {
	inv := NewInvoker(testBuildEnv(t), false, zaptest.NewLogger(t))
	inv.Bin = filepath.Join(t.TempDir(), "no-such-cargo")

	err := inv.Run(context.Background(), "build", nil)
	require.Error(t, err)

	var buildErr *BuildError
	assert.False(t, errors.As(err, &buildErr), "startup failure is not a build failure")
}
