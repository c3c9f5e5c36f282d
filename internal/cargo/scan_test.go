package cargo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rust3ds/cargo-3ds/internal/artifact"
	"github.com/rust3ds/cargo-3ds/internal/config"
)

func TestProfile(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, "debug"},
		{[]string{"--features", "audio"}, "debug"},
		{[]string{"--release"}, "release"},
		{[]string{"-r"}, "release"},
		{[]string{"--profile", "release"}, "release"},
		{[]string{"--profile=bench"}, "release"},
		{[]string{"--profile", "dev"}, "debug"},
		{[]string{"--profile=custom"}, "custom"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Profile(tc.args), "args=%v", tc.args)
	}
}

// writeELF drops a minimal ELF-magic file and pins its mtime.
func writeELF(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF  fake"), 0o755))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func writePlain(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not an executable"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestScanArtifacts(t *testing.T) {
	target := t.TempDir()
	base := filepath.Join(target, config.TargetTriple, "debug")

	start := time.Now().Add(-time.Minute)
	old := start.Add(-time.Hour)
	fresh := start.Add(10 * time.Second)
	fresher := start.Add(20 * time.Second)

	writeELF(t, filepath.Join(base, "app.elf"), fresh)
	writeELF(t, filepath.Join(base, "stale.elf"), old)
	writeELF(t, filepath.Join(base, "examples", "demo.elf"), fresher)
	writeELF(t, filepath.Join(base, "deps", "app-0123456789abcdef"), fresh)
	writePlain(t, filepath.Join(base, "app.d"), fresh)
	writePlain(t, filepath.Join(base, "deps", "libfoo.rlib"), fresh)

	got, err := ScanArtifacts(target, "debug", start)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Oldest first; the example is the strictly latest.
	assert.Equal(t, artifact.Example, got[2].Kind)
	assert.Equal(t, filepath.Join(base, "examples", "demo.elf"), got[2].Path)

	kinds := map[artifact.Kind]int{}
	for _, a := range got {
		kinds[a.Kind]++
	}
	assert.Equal(t, map[artifact.Kind]int{artifact.Binary: 1, artifact.Example: 1, artifact.Test: 1}, kinds)
}

func TestScanArtifacts_SelectorIntegration(t *testing.T) {
	target := t.TempDir()
	base := filepath.Join(target, config.TargetTriple, "release")

	start := time.Now().Add(-time.Minute)
	writeELF(t, filepath.Join(base, "app"), start.Add(time.Second))
	writeELF(t, filepath.Join(base, "deps", "it-0123456789abcdef"), start.Add(5*time.Second))

	got, err := ScanArtifacts(target, "release", start)
	require.NoError(t, err)

	sel, err := artifact.SelectLatest(got)
	require.NoError(t, err)
	assert.Equal(t, artifact.Test, sel.Kind, "latest build wins")
}

func TestScanArtifacts_MissingOutputDir(t *testing.T) {
	_, err := ScanArtifacts(t.TempDir(), "debug", time.Now())
	require.Error(t, err)
}

func TestScanArtifacts_EmptyWhenNothingFresh(t *testing.T) {
	target := t.TempDir()
	base := filepath.Join(target, config.TargetTriple, "debug")
	writeELF(t, filepath.Join(base, "app"), time.Now().Add(-time.Hour))

	got, err := ScanArtifacts(target, "debug", time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIsELF(t *testing.T) {
	dir := t.TempDir()

	elf := filepath.Join(dir, "bin")
	writeELF(t, elf, time.Now())
	assert.True(t, isELF(elf))

	text := filepath.Join(dir, "notes.txt")
	writePlain(t, text, time.Now())
	assert.False(t, isELF(text))

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte{0x7f}, 0o644))
	assert.False(t, isELF(short))

	assert.False(t, isELF(filepath.Join(dir, "missing")))
}
