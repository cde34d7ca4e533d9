package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/andybalholm/brotli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cryguy/prerender"
	"github.com/cryguy/prerender/internal/config"
	"github.com/cryguy/prerender/internal/logger"
)

func runPrerender(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	extra, err := config.ParseAssets(assetFlags)
	if err != nil {
		return err
	}
	cfg.Assets = append(cfg.Assets, extra...)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: logger.Level(cfg.Verbose), Encoding: "console"})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	files, err := prerender.ReadDir(cfg.ServerDir, prerender.KindServer)
	if err != nil {
		return fmt.Errorf("reading server output: %w", err)
	}
	if cfg.BrowserDir != "" {
		browser, err := prerender.ReadDir(cfg.BrowserDir, prerender.KindBrowser)
		if err != nil {
			return fmt.Errorf("reading browser output: %w", err)
		}
		files = append(files, browser...)
	}
	document, err := os.ReadFile(cfg.Index)
	if err != nil {
		return fmt.Errorf("reading document template: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("prerendering", zap.String("engine", prerender.Engine), zap.Int("max_threads", cfg.MaxThreads))
	res, err := prerender.Prerender(ctx, prerender.Options{
		Files:             files,
		Assets:            assets(cfg.Assets),
		Document:          string(document),
		AppShellRoute:     cfg.AppShellRoute,
		RoutesFile:        cfg.RoutesFile,
		DiscoverRoutes:    cfg.DiscoverRoutes,
		Sourcemap:         cfg.Sourcemap,
		InlineCriticalCSS: cfg.InlineCriticalCSS,
		Verbose:           cfg.Verbose,
		MaxThreads:        cfg.MaxThreads,
		WorkspaceRoot:     cfg.WorkspaceRoot,
		RenderTimeout:     cfg.RenderTimeout,
		MetricsFile:       cfg.MetricsFile,
		Logger:            log,
	})
	if err != nil {
		log.Error("prerendering failed", zap.Error(err))
		return err
	}

	for _, w := range res.Warnings {
		log.Warn(w)
	}
	if err := writeOutput(ctx, cfg.OutDir, res.Output, cfg.Brotli); err != nil {
		return err
	}
	log.Info("prerendered", zap.Int("routes", len(res.PrerenderedRoutes)), zap.String("out_dir", cfg.OutDir))

	if len(res.Errors) > 0 {
		for _, e := range res.Errors {
			log.Error(e)
		}
		return fmt.Errorf("%d route(s) failed to prerender", len(res.Errors))
	}
	return nil
}

func assets(in []config.Asset) []prerender.BuildOutputAsset {
	out := make([]prerender.BuildOutputAsset, 0, len(in))
	for _, a := range in {
		out = append(out, prerender.BuildOutputAsset{Source: a.Source, Destination: a.Destination})
	}
	return out
}

// writeOutput writes every page under dir, plus a brotli-compressed copy
// when compress is set.
func writeOutput(ctx context.Context, dir string, output map[string]string, compress bool) error {
	names := make([]string, 0, len(output))
	for name := range output {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(output[name]), 0o644); err != nil {
			return err
		}
		if !compress {
			continue
		}
		br, err := compressBrotli([]byte(output[name]))
		if err != nil {
			return fmt.Errorf("compressing %s: %w", name, err)
		}
		if err := os.WriteFile(p+".br", br, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func compressBrotli(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
