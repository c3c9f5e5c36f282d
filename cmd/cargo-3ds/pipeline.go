package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rust3ds/cargo-3ds/internal/args"
	"github.com/rust3ds/cargo-3ds/internal/artifact"
	"github.com/rust3ds/cargo-3ds/internal/bundle"
	"github.com/rust3ds/cargo-3ds/internal/cargo"
	"github.com/rust3ds/cargo-3ds/internal/config"
	"github.com/rust3ds/cargo-3ds/internal/link"
	"github.com/rust3ds/cargo-3ds/internal/rustc"
	"github.com/rust3ds/cargo-3ds/internal/watch"
)

// pipeline carries the per-invocation state through one build-package-deploy
// cycle.
type pipeline struct {
	inv     *args.Invocation
	env     *config.BuildEnvironment
	invoker *cargo.Invoker
	log     *zap.Logger
}

// runPipeline gates the toolchain, sets up the cross-compilation
// environment, and drives the invocation, repeatedly in watch mode.
func runPipeline(ctx context.Context, inv *args.Invocation, log *zap.Logger) error {
	meta, err := rustc.Probe(ctx)
	if err != nil {
		return err
	}
	if err := rustc.Check(meta); err != nil {
		return err
	}
	log.Debug("toolchain accepted",
		zap.String("rustc", meta.Version.String()),
		zap.Stringer("channel", meta.Channel))

	env, err := config.NewBuildEnvironment()
	if err != nil {
		return err
	}

	sysroot, err := rustc.Sysroot(ctx)
	if err != nil {
		return err
	}
	buildStd := !rustc.HasPrebuiltStd(sysroot, env.TargetTriple)

	p := &pipeline{
		inv:     inv,
		env:     env,
		invoker: cargo.NewInvoker(env, buildStd, log),
		log:     log,
	}

	if inv.Deploy.Watch {
		if err := p.once(ctx); err != nil {
			log.Warn("initial build failed, watching for changes", zap.Error(err))
		}
		return watch.New(log).Watch(ctx, []string{"."}, p.once)
	}
	return p.once(ctx)
}

// once runs a single cycle: cargo, artifact scan, packaging, and for run
// and test the network deployment.
func (p *pipeline) once(ctx context.Context) error {
	start := time.Now()
	sub, buildArgs := cargoPlan(p.inv)
	if err := p.invoker.Run(ctx, sub, buildArgs); err != nil {
		return err
	}

	arts, err := cargo.ScanArtifacts(config.TargetDir(), cargo.Profile(p.inv.BuildArgs), start)
	if err != nil {
		return err
	}
	md, err := config.ReadMetadata(ctx)
	if err != nil {
		return err
	}
	bundler := bundle.New(p.log)

	// build packages everything the invocation produced; run and test pick
	// the most recently written executable.
	if p.inv.Kind == args.Build {
		if len(arts) == 0 {
			return artifact.ErrNoArtifact
		}
		for _, art := range arts {
			app := config.ResolveApp(md, art, p.env)
			if err := bundler.Bundle(ctx, app); err != nil {
				return err
			}
			p.log.Info("packaged", zap.String("output", app.Path3DSX()))
		}
		return nil
	}

	art, err := artifact.SelectLatest(arts)
	if err != nil {
		return err
	}
	app := config.ResolveApp(md, art, p.env)
	if err := bundler.Bundle(ctx, app); err != nil {
		return err
	}
	p.log.Info("packaged", zap.String("output", app.Path3DSX()))

	if !shouldDeploy(p.inv) {
		return nil
	}
	deployer := link.NewDeployer(link.NewTool(p.log), p.log)
	return deployer.Deploy(ctx, app.Path3DSX(), deployOptions(p.inv))
}

// cargoPlan maps the invocation onto the cargo subcommand actually run.
// run builds only, since the executable cannot run on the host; test gets
// --no-run for the same reason.
func cargoPlan(inv *args.Invocation) (string, []string) {
	switch inv.Kind {
	case args.Test:
		if hasNoRun(inv.BuildArgs) {
			return "test", inv.BuildArgs
		}
		return "test", append(append([]string(nil), inv.BuildArgs...), "--no-run")
	default:
		return "build", inv.BuildArgs
	}
}

// shouldDeploy reports whether this invocation ends with a device
// transfer. A user-supplied --no-run turns test into build-only.
func shouldDeploy(inv *args.Invocation) bool {
	switch inv.Kind {
	case args.Run:
		return true
	case args.Test:
		return !hasNoRun(inv.BuildArgs)
	default:
		return false
	}
}

func hasNoRun(buildArgs []string) bool {
	for _, arg := range buildArgs {
		if arg == "--no-run" {
			return true
		}
	}
	return false
}

func deployOptions(inv *args.Invocation) link.Options {
	return link.Options{
		Address: inv.Deploy.Address,
		Argv0:   inv.Deploy.Argv0,
		Server:  inv.Deploy.Server,
		Retries: inv.Deploy.Retries,
		Args:    inv.ExecArgs,
	}
}
