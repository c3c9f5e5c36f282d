// Package rustc gates the pipeline on a usable Rust toolchain.
//
// Cross-compiling for the 3DS needs a nightly compiler at or above a known
// minimum; anything older fails deep inside cargo with confusing output, so
// the check runs first and refuses with instructions instead.
package rustc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Channel is the rustc release channel.
type Channel int

const (
	ChannelStable Channel = iota
	ChannelBeta
	ChannelNightly
	ChannelDev
)

func (c Channel) String() string {
	switch c {
	case ChannelStable:
		return "stable"
	case ChannelBeta:
		return "beta"
	case ChannelNightly:
		return "nightly"
	case ChannelDev:
		return "dev"
	default:
		return "unknown"
	}
}

// Minimum toolchain able to build for armv6k-nintendo-3ds.
var (
	minimumVersion    = semver.MustParse("1.63.0")
	minimumCommitDate = time.Date(2022, 6, 15, 0, 0, 0, 0, time.UTC)
)

// ErrTooOld reports a toolchain below the supported floor or on the wrong
// channel.
var ErrTooOld = errors.New("unsupported rustc toolchain")

// Meta describes the active rustc.
type Meta struct {
	Version *semver.Version
	Channel Channel

	// CommitDate is zero when rustc did not report one.
	CommitDate time.Time
}

// Probe runs `rustc --version --verbose` and parses the result. The binary
// is overridable through $RUSTC.
func Probe(ctx context.Context) (*Meta, error) {
	out, err := exec.CommandContext(ctx, Binary(), "--version", "--verbose").Output()
	if err != nil {
		return nil, fmt.Errorf("running %s --version: %w", Binary(), err)
	}
	return ParseMeta(string(out))
}

// Binary returns the rustc executable to use.
func Binary() string {
	if rustc := os.Getenv("RUSTC"); rustc != "" {
		return rustc
	}
	return "rustc"
}

// ParseMeta parses `rustc --version --verbose` output.
func ParseMeta(out string) (*Meta, error) {
	meta := &Meta{Channel: ChannelStable}

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ": ")
		if !ok {
			continue
		}
		switch key {
		case "release":
			v, err := semver.NewVersion(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("parsing rustc release %q: %w", value, err)
			}
			meta.Version = v
			meta.Channel = channelOf(v.Prerelease())
		case "commit-date":
			value = strings.TrimSpace(value)
			if value == "" || value == "unknown" {
				continue
			}
			d, err := time.Parse("2006-01-02", value)
			if err != nil {
				return nil, fmt.Errorf("parsing rustc commit date %q: %w", value, err)
			}
			meta.CommitDate = d
		}
	}
	if meta.Version == nil {
		return nil, fmt.Errorf("no release line in rustc version output")
	}
	return meta, nil
}

func channelOf(prerelease string) Channel {
	tag, _, _ := strings.Cut(prerelease, ".")
	switch tag {
	case "nightly":
		return ChannelNightly
	case "beta":
		return ChannelBeta
	case "dev":
		return ChannelDev
	case "":
		return ChannelStable
	default:
		return ChannelDev
	}
}

// Check verifies the toolchain meets the channel and version floor.
func Check(meta *Meta) error {
	if meta.Channel != ChannelNightly && meta.Channel != ChannelDev {
		return fmt.Errorf("%w: a nightly rustc is required, found %s %s\n"+
			"run `rustup override set nightly` to use nightly in this directory",
			ErrTooOld, meta.Channel, meta.Version)
	}

	// The nightly prerelease tag would make 1.63.0-nightly sort below
	// 1.63.0, so compare the bare version.
	bare := *meta.Version
	if v, err := bare.SetPrerelease(""); err == nil {
		bare = v
	}

	tooOld := bare.LessThan(minimumVersion)
	if !meta.CommitDate.IsZero() && meta.CommitDate.Before(minimumCommitDate) {
		tooOld = true
	}
	if tooOld {
		return fmt.Errorf("%w: rustc nightly >= %s (%s) is required, found %s\n"+
			"run `rustup update nightly` to upgrade",
			ErrTooOld, minimumVersion, minimumCommitDate.Format("2006-01-02"), meta.Version)
	}
	return nil
}

// Sysroot locates the toolchain sysroot, honoring a $SYSROOT override.
func Sysroot(ctx context.Context) (string, error) {
	if sysroot := os.Getenv("SYSROOT"); sysroot != "" {
		return sysroot, nil
	}
	out, err := exec.CommandContext(ctx, Binary(), "--print", "sysroot").Output()
	if err != nil {
		return "", fmt.Errorf("running %s --print sysroot: %w", Binary(), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// HasPrebuiltStd reports whether the sysroot ships a std for the 3DS
// target. Without one the cargo invocation gets `-Z build-std`.
func HasPrebuiltStd(sysroot, targetTriple string) bool {
	info, err := os.Stat(filepath.Join(sysroot, "lib", "rustlib", targetTriple))
	return err == nil && info.IsDir()
}
