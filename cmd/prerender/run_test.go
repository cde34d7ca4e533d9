package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/prerender"
	"github.com/cryguy/prerender/internal/config"
)

func TestWriteOutput(t *testing.T) {
	dir := t.TempDir()
	output := map[string]string{
		"index.html":           "<p>home</p>",
		"blog/post/index.html": "<p>post</p>",
	}
	require.NoError(t, writeOutput(context.Background(), dir, output, true))

	for name, want := range output {
		p := filepath.Join(dir, filepath.FromSlash(name))
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))

		br, err := os.ReadFile(p + ".br")
		require.NoError(t, err)
		plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(br)))
		require.NoError(t, err)
		assert.Equal(t, want, string(plain))
	}
}

func TestWriteOutputWithoutBrotli(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeOutput(context.Background(), dir, map[string]string{"index.html": "x"}, false))
	_, err := os.Stat(filepath.Join(dir, "index.html.br"))
	assert.True(t, os.IsNotExist(err))
}

func TestBindFlagsOnlyChanged(t *testing.T) {
	t.Setenv("PRERENDER_MAX_THREADS", "6")
	vp := config.New()
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().Int("max-threads", 0, "")
	cmd.Flags().Bool("brotli", false, "")
	require.NoError(t, cmd.ParseFlags([]string{"--brotli"}))
	require.NoError(t, bindFlags(vp, cmd))

	cfg, err := config.Load(vp)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MaxThreads, "unset flag must not mask the environment")
	assert.True(t, cfg.Brotli)
}

func TestAssetFlags(t *testing.T) {
	require.NoError(t, rootCmd.Flags().Set("asset", "/img/logo.png=/disk/logo.png"))
	t.Cleanup(func() { assetFlags = nil })

	parsed, err := config.ParseAssets(assetFlags)
	require.NoError(t, err)
	assert.Equal(t, []prerender.BuildOutputAsset{
		{Source: "/disk/logo.png", Destination: "/img/logo.png"},
	}, assets(parsed))
}
