// Package bundle packages a built ELF into the 3dsx container the device
// runs, driving the devkitPro command line tools as black boxes.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/rust3ds/cargo-3ds/internal/config"
)

// ErrRomFSMissing reports an explicitly configured romfs directory that
// does not exist. The implicit "romfs" convention is skipped silently when
// absent; a configured path is a promise the user made.
var ErrRomFSMissing = errors.New("configured romfs directory not found")

// ToolError carries a packaging tool's non-zero exit status.
type ToolError struct {
	Tool string
	Code int
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
}

// Bundler produces .smdh and .3dsx files for one app configuration.
type Bundler struct {
	// SMDHTool and ThreeDSXTool are the packager executables, expected on
	// $PATH by the devkitPro install.
	SMDHTool     string
	ThreeDSXTool string

	Log *zap.Logger
}

func New(log *zap.Logger) *Bundler {
	return &Bundler{
		SMDHTool:     "smdhtool",
		ThreeDSXTool: "3dsxtool",
		Log:          log,
	}
}

// Bundle builds the smdh then the 3dsx for app.
func (b *Bundler) Bundle(ctx context.Context, app *config.AppConfig) error {
	if err := b.BuildSMDH(ctx, app); err != nil {
		return err
	}
	return b.Build3DSX(ctx, app)
}

// BuildSMDH writes the menu metadata blob.
func (b *Bundler) BuildSMDH(ctx context.Context, app *config.AppConfig) error {
	b.Log.Info("building smdh", zap.String("path", app.PathSMDH()))

	return b.runTool(ctx, b.SMDHTool,
		"--create", app.Name, app.Description, app.Author, app.Icon, app.PathSMDH())
}

// Build3DSX packages the ELF, embedding the smdh and, when present, the
// romfs directory.
func (b *Bundler) Build3DSX(ctx context.Context, app *config.AppConfig) error {
	b.Log.Info("building 3dsx", zap.String("path", app.Path3DSX()))

	argv := []string{app.TargetPath, app.Path3DSX(), "--smdh=" + app.PathSMDH()}

	switch {
	case dirExists(app.RomFS):
		b.Log.Info("adding romfs", zap.String("dir", app.RomFS))
		argv = append(argv, "--romfs="+app.RomFS)
	case !app.RomFSIsDefault:
		return fmt.Errorf("%w: %s", ErrRomFSMissing, app.RomFS)
	}

	return b.runTool(ctx, b.ThreeDSXTool, argv...)
}

func (b *Bundler) runTool(ctx context.Context, tool string, argv ...string) error {
	cmd := exec.CommandContext(ctx, tool, argv...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Tool: tool, Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("running %s (is devkitPro's tools directory on PATH?): %w", tool, err)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
