// relpipe promotes a staged build to release: publishes packages, mirrors
// the package server, promotes and signs container images, and runs the
// post-release smoke suites, all as one dependency graph.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relpipe/relpipe/config"
	"github.com/relpipe/relpipe/exitcodes"
	"github.com/relpipe/relpipe/graph"
	"github.com/relpipe/relpipe/history"
	"github.com/relpipe/relpipe/metrics"
	"github.com/relpipe/relpipe/packages"
	"github.com/relpipe/relpipe/registry"
	"github.com/relpipe/relpipe/release"
	"github.com/relpipe/relpipe/runlock"
	"github.com/relpipe/relpipe/sign"
	"github.com/relpipe/relpipe/stages"
	"github.com/relpipe/relpipe/store"
)

var locks = runlock.New()

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("relpipe", flag.ContinueOnError)
	configPath := fs.String("config", "release.yaml", "release configuration file")
	version := fs.String("version", "", "version to release (numeric, no v prefix)")
	quiet := fs.Bool("quiet", false, "suppress progress logging")
	if err := fs.Parse(args); err != nil {
		return exitcodes.InvalidConfig
	}
	logger := log.New(os.Stderr, "relpipe: ", log.LstdFlags)

	inputs := release.Inputs{Version: *version}
	if err := inputs.Validate(); err != nil {
		logger.Printf("invalid inputs: %v", err)
		return exitcodes.InvalidConfig
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("%v", err)
		return exitcodes.InvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	releaseFn, err := locks.Acquire(cfg.Pipeline)
	if err != nil {
		logger.Printf("%v", err)
		return exitcodes.Busy
	}
	defer releaseFn()

	code, err := promote(ctx, cfg, inputs, logger, *quiet)
	if err != nil {
		logger.Printf("%v", err)
	}
	return code
}

func promote(ctx context.Context, cfg *config.Config, inputs release.Inputs, logger *log.Logger, quiet bool) (int, error) {
	staging, err := store.NewDirStore(cfg.Staging.Path)
	if err != nil {
		return exitcodes.InvalidConfig, err
	}
	released, err := store.NewDirStore(cfg.Release.Path)
	if err != nil {
		return exitcodes.InvalidConfig, err
	}
	var mirror store.ObjectStore
	if cfg.Mirror.Path != "" {
		m, err := store.NewDirStore(cfg.Mirror.Path)
		if err != nil {
			return exitcodes.InvalidConfig, err
		}
		mirror = m
	}

	source, err := registry.NewDirRegistry(cfg.SourceRegistry.Name, cfg.SourceRegistry.Path)
	if err != nil {
		return exitcodes.InvalidConfig, err
	}
	var targets []registry.Registry
	for _, rc := range cfg.TargetRegistries {
		reg, err := registry.NewDirRegistry(rc.Name, rc.Path)
		if err != nil {
			return exitcodes.InvalidConfig, err
		}
		targets = append(targets, reg)
	}

	keyMaterial, err := os.ReadFile(cfg.SigningKeyFile)
	if err != nil {
		return exitcodes.InvalidConfig, fmt.Errorf("read signing key: %w", err)
	}
	pkgKey, err := sign.NewKeySigner(keyMaterial)
	if err != nil {
		return exitcodes.InvalidConfig, err
	}
	var imgKey *sign.KeySigner
	if cfg.ImageKeyFile != "" {
		material, err := os.ReadFile(cfg.ImageKeyFile)
		if err != nil {
			return exitcodes.InvalidConfig, fmt.Errorf("read image key: %w", err)
		}
		imgKey, err = sign.NewKeySigner(material)
		if err != nil {
			return exitcodes.InvalidConfig, err
		}
	}

	tlog, err := sign.NewFileLog(ctx, released, "transparency.log")
	if err != nil {
		return exitcodes.RunFailed, err
	}
	sigs, err := sign.NewObjectStoreSigs(ctx, released, "signatures")
	if err != nil {
		return exitcodes.RunFailed, err
	}

	indexers := packages.DefaultIndexers()
	var indexKeys []string
	for _, idx := range indexers {
		if fi, ok := idx.(*packages.FormatIndexer); ok {
			indexKeys = append(indexKeys, fi.IndexKey)
		}
	}

	pipeline := &stages.Pipeline{
		Gate: &release.Gate{Staging: staging, MarkerKey: cfg.MarkerKey},
		Packages: &packages.Promoter{
			Staging:       staging,
			Release:       released,
			StagingPrefix: cfg.PackagesPrefix,
			ReleasePrefix: cfg.PackagesPrefix,
			Key:           pkgKey,
			Indexers:      indexers,
			Purge:         cfg.PurgeKeys,
		},
		Mirror:       mirror,
		MirrorPrefix: cfg.PackagesPrefix,
		Source:       source,
		Targets:      targets,
		Key:          imgKey,
		Keyless:      &sign.KeylessSigner{Identity: cfg.KeylessIdentity, Log: tlog},
		Signatures:   sigs,
		Smoke: []stages.Harness{
			stages.PackagesHarness(released, cfg.PackagesPrefix, indexKeys),
			stages.ImagesHarness(targets, sigs),
		},
		CopyAttempts: cfg.CopyAttempts,
	}
	g, err := pipeline.Graph(cfg.Pipeline)
	if err != nil {
		return exitcodes.InvalidConfig, err
	}
	if err := config.Apply(g, cfg.Nodes); err != nil {
		return exitcodes.InvalidConfig, err
	}

	var observers []graph.Observer
	if !quiet {
		observers = append(observers, &graph.LogObserver{Logger: logger})
	}
	if cfg.HistoryDB != "" {
		hist, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return exitcodes.InvalidConfig, err
		}
		defer hist.Close()
		observers = append(observers, hist)
	}
	mobs := metrics.NewObserver()
	observers = append(observers, mobs)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := mobs.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	result, runErr := g.Run(ctx, inputs.Map(), &graph.RunOptions{
		Observer: graph.MultiObserver(observers...),
		Workers:  cfg.Workers,
	})
	if result != nil {
		fmt.Print(result.Summary(g.Nodes()))
	}
	if runErr == nil {
		return exitcodes.Success, nil
	}
	if errors.Is(runErr, release.ErrVersionMismatch) {
		return exitcodes.VersionGateFailed, runErr
	}
	return exitcodes.RunFailed, runErr
}
