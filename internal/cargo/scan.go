package cargo

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rust3ds/cargo-3ds/internal/artifact"
	"github.com/rust3ds/cargo-3ds/internal/config"
)

// Profile picks the output profile directory implied by the passthrough
// args. cargo owns the flags; only the ones that move the output directory
// matter here.
func Profile(buildArgs []string) string {
	for i, arg := range buildArgs {
		switch {
		case arg == "--release" || arg == "-r":
			return "release"
		case arg == "--profile" && i+1 < len(buildArgs):
			return profileDir(buildArgs[i+1])
		case strings.HasPrefix(arg, "--profile="):
			return profileDir(strings.TrimPrefix(arg, "--profile="))
		}
	}
	return "debug"
}

// profileDir maps the two built-in profile names to their directories;
// custom profiles use their own name.
func profileDir(profile string) string {
	switch profile {
	case "dev", "test":
		return "debug"
	case "bench":
		return "release"
	default:
		return profile
	}
}

// kindDirs maps output subdirectories to the artifact kind they hold, per
// cargo's layout convention under target/<triple>/<profile>.
var kindDirs = []struct {
	sub  string
	kind artifact.Kind
}{
	{"", artifact.Binary},
	{"examples", artifact.Example},
	{"deps", artifact.Test},
	{"doctests", artifact.Doctest},
}

// ScanArtifacts walks the build output directory for executables this
// invocation produced: ELF files whose modification time is not older than
// the recorded build start. Results are ordered oldest first, stable by
// path within equal timestamps.
func ScanArtifacts(targetDir, profile string, since time.Time) ([]artifact.Artifact, error) {
	base := filepath.Join(targetDir, config.TargetTriple, profile)
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("no build output at %s: %w", base, err)
	}

	var found []artifact.Artifact
	for _, d := range kindDirs {
		dir := filepath.Join(base, d.sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().Before(since) {
				continue
			}
			if !isELF(path) {
				continue
			}
			found = append(found, artifact.Artifact{
				Path:    path,
				Kind:    d.kind,
				ModTime: info.ModTime(),
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].ModTime.Before(found[j].ModTime)
	})
	return found, nil
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// isELF sniffs the executable container magic; everything else in the
// output directory (.d files, fingerprints, rlibs with foreign headers) is
// not deployable.
func isELF(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return bytes.Equal(magic, elfMagic)
}
