package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cryguy/prerender/internal/config"
)

var (
	cfgFile    string
	assetFlags []string
	v          = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "prerender",
	Short: "Render every route of a single-page application to static HTML",
	Long: `prerender executes the server bundle of an application in a pool of
JavaScript VMs and writes one index.html per route next to the browser build.

Configuration comes from flags, PRERENDER_* environment variables and
.prerender.yaml, in that order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(v, cmd); err != nil {
			return err
		}
		return config.ReadFile(v, cfgFile)
	},
	RunE: runPrerender,
}

func execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .prerender.yaml, or PRERENDER_CONFIG_FILE)")

	flags.String("server-dir", "", "server bundle output directory")
	flags.String("browser-dir", "", "browser bundle output directory")
	flags.String("index", "", "document template (default <browser-dir>/index.html)")
	flags.String("out-dir", "", "where pages are written (default <browser-dir>)")
	flags.String("workspace-root", "", "directory node_modules is resolved from (default working directory)")
	flags.String("routes-file", "", "file listing one route per line")
	flags.Bool("discover-routes", true, "ask the application for its routes")
	flags.String("app-shell-route", "", "route rendered as the app shell into the root index.html")
	flags.Int("max-threads", 0, "maximum render workers (default number of CPUs)")
	flags.Bool("inline-critical-css", false, "inline the CSS rules each page uses")
	flags.Bool("sourcemap", false, "inline server source maps for readable stack traces")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.Bool("brotli", false, "also write a .br file next to every page")
	flags.String("metrics-file", "", "write render metrics in Prometheus textfile format")
	flags.Duration("render-timeout", 0, "per-route render timeout (default 30s)")
	flags.StringArrayVar(&assetFlags, "asset", nil, "serve file SRC at URL path DEST while rendering, as DEST=SRC (repeatable)")
}

var keys = []string{
	"server_dir", "browser_dir", "index", "out_dir", "workspace_root", "routes_file",
	"discover_routes", "app_shell_route", "max_threads", "inline_critical_css",
	"sourcemap", "verbose", "brotli", "metrics_file", "render_timeout",
}

// bindFlags binds the flags the user set. Unset flags are left out so
// their zero defaults never mask file or environment values.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for _, key := range keys {
		f := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-"))
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}
