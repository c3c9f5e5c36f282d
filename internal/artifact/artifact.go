// Package artifact models the executables produced by one build invocation
// and the policy for choosing which one to deploy.
package artifact

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Kind classifies a built executable by the output subdirectory convention
// that produced it.
type Kind int

const (
	Binary Kind = iota
	Test
	Example
	Doctest
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Test:
		return "test"
	case Example:
		return "example"
	case Doctest:
		return "doctest"
	default:
		return "unknown"
	}
}

// Artifact is a single executable file produced by a build. It is transient:
// constructed from a post-build scan and discarded at process exit.
type Artifact struct {
	Path    string
	Kind    Kind
	ModTime time.Time
}

// ErrNoArtifact is returned when a build that requires a deployable
// executable produced none.
var ErrNoArtifact = errors.New("no artifact produced")

// hashSuffix matches the metadata hash cargo appends to test executables,
// e.g. "mycrate-9f8e7d6c5b4a3f2e".
var hashSuffix = regexp.MustCompile(`-[0-9a-f]{16}$`)

// Name returns the artifact's display stem: the file name without extension,
// with the build-hash suffix stripped for test executables.
func (a Artifact) Name() string {
	stem := strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path))
	if a.Kind == Test {
		stem = hashSuffix.ReplaceAllString(stem, "")
	}
	return stem
}

// SelectLatest picks the artifact with the latest modification time.
//
// When several artifacts share the latest timestamp the last one scanned
// wins. That is a documented limitation of the selection policy, not a
// guarantee: callers disambiguate by narrowing the build itself (for example
// with a test-name filter).
func SelectLatest(artifacts []Artifact) (Artifact, error) {
	if len(artifacts) == 0 {
		return Artifact{}, ErrNoArtifact
	}

	selected := artifacts[0]
	for _, a := range artifacts[1:] {
		if !a.ModTime.Before(selected.ModTime) {
			selected = a
		}
	}
	return selected, nil
}
