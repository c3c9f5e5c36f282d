// Package config derives the cross-compilation environment and reads the
// per-target packaging metadata that cargo carries for this tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TargetTriple is the fixed compilation target. The whole tool exists for
// this one platform.
const TargetTriple = "armv6k-nintendo-3ds"

// ErrToolchainNotFound is returned when the devkitPro installation cannot
// be located.
var ErrToolchainNotFound = errors.New("toolchain not found")

// BuildEnvironment is the environment applied to every cargo invocation.
// It is constructed fresh per invocation and never mutated afterwards.
type BuildEnvironment struct {
	TargetTriple  string
	ToolchainRoot string

	// CompilerFlags is the full RUSTFLAGS value: whatever the user had set,
	// with the platform-mandatory link flags appended. Appended, never
	// replaced; deduplication and validation are cargo's problem.
	CompilerFlags string
}

// NewBuildEnvironment probes $DEVKITPRO and assembles the compiler flags.
func NewBuildEnvironment() (*BuildEnvironment, error) {
	root := os.Getenv("DEVKITPRO")
	if root == "" {
		return nil, fmt.Errorf("%w: DEVKITPRO is not set; install devkitPro and export DEVKITPRO", ErrToolchainNotFound)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: DEVKITPRO points at %q, which is not a directory", ErrToolchainNotFound, root)
	}

	mandatory := fmt.Sprintf("-L%s/libctru/lib -lctru", root)
	flags := strings.TrimSpace(os.Getenv("RUSTFLAGS") + " " + mandatory)

	return &BuildEnvironment{
		TargetTriple:  TargetTriple,
		ToolchainRoot: root,
		CompilerFlags: flags,
	}, nil
}

// DefaultIcon is the toolchain-provided fallback icon.
func (e *BuildEnvironment) DefaultIcon() string {
	return e.ToolchainRoot + "/libctru/default_icon.png"
}

// Environ returns a copy of the process environment with RUSTFLAGS set to
// the assembled compiler flags.
func (e *BuildEnvironment) Environ() []string {
	return setEnvKey(os.Environ(), "RUSTFLAGS", e.CompilerFlags)
}

// setEnvKey sets or replaces key in a KEY=VALUE environment list.
func setEnvKey(env []string, key, value string) []string {
	out := make([]string, len(env))
	copy(out, env)

	prefix := key + "="
	for i, kv := range out {
		if strings.HasPrefix(kv, prefix) {
			out[i] = prefix + value
			return out
		}
	}
	return append(out, prefix+value)
}

// CargoBinary returns the cargo executable, honoring a $CARGO override.
func CargoBinary() string {
	if cargo := os.Getenv("CARGO"); cargo != "" {
		return cargo
	}
	return "cargo"
}

// TargetDir returns cargo's build output root, honoring a
// $CARGO_TARGET_DIR override.
func TargetDir() string {
	if dir := os.Getenv("CARGO_TARGET_DIR"); dir != "" {
		return dir
	}
	return "target"
}
