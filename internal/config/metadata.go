package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rust3ds/cargo-3ds/internal/artifact"
)

// metadataKey is the table this tool owns inside [package.metadata].
const metadataKey = "cargo-3ds"

// TargetMetadata is the packaging configuration for a single target. An
// empty field means unset; defaults are applied at resolution time.
type TargetMetadata struct {
	// Icon path, relative to the package manifest.
	Icon string

	// RomFSDir path, relative to the package manifest.
	RomFSDir string

	// Description shown in the homebrew menu.
	Description string
}

// merge overlays set fields of other onto m.
func (m *TargetMetadata) merge(other TargetMetadata) {
	if other.Icon != "" {
		m.Icon = other.Icon
	}
	if other.RomFSDir != "" {
		m.RomFSDir = other.RomFSDir
	}
	if other.Description != "" {
		m.Description = other.Description
	}
}

// PackageConfig is the full cargo-3ds metadata table of one package: a
// package-wide default plus per-target overrides.
type PackageConfig struct {
	Default  TargetMetadata
	Examples map[string]TargetMetadata
	Tests    map[string]TargetMetadata
	Lib      *TargetMetadata
}

// Package is one workspace package with its cargo-3ds configuration
// already extracted.
type Package struct {
	Name         string
	Description  string
	Authors      []string
	ManifestPath string
	Config       PackageConfig
}

// Metadata is the workspace view this tool needs from `cargo metadata`.
type Metadata struct {
	Packages []Package
}

// ReadMetadata shells out to `cargo metadata` for the current workspace.
func ReadMetadata(ctx context.Context) (*Metadata, error) {
	out, err := exec.CommandContext(ctx, CargoBinary(),
		"metadata", "--format-version", "1", "--no-deps").Output()
	if err != nil {
		return nil, fmt.Errorf("running cargo metadata: %w", err)
	}
	return ParseMetadata(out)
}

type rawTarget struct {
	Icon        string `json:"icon"`
	RomFSDir    string `json:"romfs_dir"`
	RomFSDirAlt string `json:"romfs-dir"`
	Description string `json:"description"`
}

func (r rawTarget) toMetadata() TargetMetadata {
	dir := r.RomFSDir
	if dir == "" {
		dir = r.RomFSDirAlt
	}
	return TargetMetadata{Icon: r.Icon, RomFSDir: dir, Description: r.Description}
}

type rawSection struct {
	rawTarget
	Examples map[string]rawTarget `json:"examples"`
	Tests    map[string]rawTarget `json:"tests"`
	Lib      *rawTarget           `json:"lib"`
}

type rawPackage struct {
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	Authors      []string                   `json:"authors"`
	ManifestPath string                     `json:"manifest_path"`
	Metadata     map[string]json.RawMessage `json:"metadata"`
}

type rawMetadata struct {
	Packages []rawPackage `json:"packages"`
}

// ParseMetadata decodes `cargo metadata --format-version 1` output.
func ParseMetadata(data []byte) (*Metadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding cargo metadata: %w", err)
	}

	md := &Metadata{}
	for _, p := range raw.Packages {
		pkg := Package{
			Name:         p.Name,
			Description:  p.Description,
			Authors:      p.Authors,
			ManifestPath: p.ManifestPath,
		}
		if section, ok := p.Metadata[metadataKey]; ok {
			var s rawSection
			if err := json.Unmarshal(section, &s); err != nil {
				return nil, fmt.Errorf("decoding [package.metadata.%s] for %s: %w", metadataKey, p.Name, err)
			}
			pkg.Config = sectionConfig(s)
		}
		md.Packages = append(md.Packages, pkg)
	}
	return md, nil
}

func sectionConfig(s rawSection) PackageConfig {
	cfg := PackageConfig{Default: s.rawTarget.toMetadata()}
	if len(s.Examples) > 0 {
		cfg.Examples = make(map[string]TargetMetadata, len(s.Examples))
		for name, t := range s.Examples {
			cfg.Examples[name] = t.toMetadata()
		}
	}
	if len(s.Tests) > 0 {
		cfg.Tests = make(map[string]TargetMetadata, len(s.Tests))
		for name, t := range s.Tests {
			cfg.Tests[name] = t.toMetadata()
		}
	}
	if s.Lib != nil {
		lib := s.Lib.toMetadata()
		cfg.Lib = &lib
	}
	return cfg
}

// AppConfig is everything the packagers and the device link need to know
// about one executable.
type AppConfig struct {
	Name        string
	Author      string
	Description string
	Icon        string

	// TargetPath is the built ELF.
	TargetPath string

	// RomFS is the resolved romfs directory. RomFSIsDefault distinguishes
	// the implicit "romfs" convention from an explicitly configured path:
	// a missing default is skipped, a missing configured path is an error.
	RomFS          string
	RomFSIsDefault bool
}

// Path3DSX is the packaged executable transferred to the device.
func (c *AppConfig) Path3DSX() string { return withExtension(c.TargetPath, "3dsx") }

// PathSMDH is the menu metadata blob embedded next to the 3dsx.
func (c *AppConfig) PathSMDH() string { return withExtension(c.TargetPath, "smdh") }

func withExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

// ResolveApp combines workspace metadata with a selected artifact into the
// final packaging configuration.
func ResolveApp(md *Metadata, art artifact.Artifact, env *BuildEnvironment) *AppConfig {
	stem := art.Name()
	pkg := packageFor(md, stem)
	meta := targetMetadata(pkg, art, stem)
	manifestDir := filepath.Dir(pkg.ManifestPath)

	cfg := &AppConfig{
		Name:        displayName(pkg, art, stem),
		Author:      author(pkg),
		Description: meta.Description,
		TargetPath:  art.Path,
	}

	if cfg.Description == "" {
		cfg.Description = pkg.Description
	}
	if cfg.Description == "" {
		cfg.Description = "Homebrew Application"
	}

	switch {
	case meta.Icon != "":
		cfg.Icon = filepath.Join(manifestDir, meta.Icon)
	case fileExists(filepath.Join(manifestDir, "icon.png")):
		cfg.Icon = filepath.Join(manifestDir, "icon.png")
	default:
		cfg.Icon = env.DefaultIcon()
	}

	romfsDir := meta.RomFSDir
	cfg.RomFSIsDefault = romfsDir == ""
	if cfg.RomFSIsDefault {
		romfsDir = "romfs"
	}
	cfg.RomFS = filepath.Join(manifestDir, romfsDir)

	return cfg
}

// packageFor matches an artifact stem to its package. Cargo converts dashes
// to underscores in target names, so both spellings are tried; an unmatched
// stem falls back to the first package rather than failing the pipeline.
func packageFor(md *Metadata, stem string) *Package {
	for i := range md.Packages {
		p := &md.Packages[i]
		if p.Name == stem || strings.ReplaceAll(p.Name, "-", "_") == stem {
			return p
		}
	}
	if len(md.Packages) > 0 {
		return &md.Packages[0]
	}
	return &Package{}
}

func targetMetadata(pkg *Package, art artifact.Artifact, stem string) TargetMetadata {
	meta := pkg.Config.Default
	switch art.Kind {
	case artifact.Example:
		if t, ok := pkg.Config.Examples[stem]; ok {
			meta.merge(t)
		}
	case artifact.Test:
		if t, ok := pkg.Config.Tests[stem]; ok {
			meta.merge(t)
		} else if pkg.Config.Lib != nil {
			meta.merge(*pkg.Config.Lib)
		}
	}
	return meta
}

func displayName(pkg *Package, art artifact.Artifact, stem string) string {
	switch art.Kind {
	case artifact.Test, artifact.Doctest:
		return stem + " tests"
	case artifact.Example:
		return fmt.Sprintf("%s - %s example", stem, pkg.Name)
	default:
		return stem
	}
}

func author(pkg *Package) string {
	if a := os.Getenv("CARGO_3DS_AUTHOR"); a != "" {
		return a
	}
	if len(pkg.Authors) > 0 {
		return pkg.Authors[0]
	}
	// The devkitPro toolchain's own placeholder.
	return "Unspecified Author"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
