package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loomdev/loom/internal/config"
	"github.com/loomdev/loom/pkg/server"
	"github.com/loomdev/loom/pkg/session"
)

// serveCmd runs the demo application. Flags override environment
// variables, which override loom.json.
func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix("LOOM")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}

			fileCfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(v, fileCfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to loom.json")
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("base-path", "", "deployment path")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "log format (text, json)")
	return cmd
}

func serve(v *viper.Viper, fileCfg *config.Config) error {
	logger := buildLogger(
		pick(v.GetString("log-level"), fileCfg.Log.Level, "info"),
		pick(v.GetString("log-format"), fileCfg.Log.Format, "text"),
	)
	slog.SetDefault(logger)

	srvCfg := server.DefaultConfig().
		WithAddr(pick(v.GetString("addr"), fileCfg.Server.Addr, ":8080")).
		WithBasePath(pick(v.GetString("base-path"), fileCfg.Server.BasePath, "/app")).
		WithTrustedProxies(fileCfg.Server.TrustedProxies).
		WithAllowedOrigins(fileCfg.Server.AllowedOrigins)
	srvCfg.SecureCookies = fileCfg.Server.SecureCookies

	sessCfg := session.DefaultConfig()
	if d := time.Duration(fileCfg.Session.IdleTimeout); d > 0 {
		sessCfg = sessCfg.WithIdleTimeout(d)
	}
	if d := time.Duration(fileCfg.Session.BootstrapTimeout); d > 0 {
		sessCfg.BootstrapTimeout = d
	}
	if n := fileCfg.Session.MaxSessions; n > 0 {
		sessCfg = sessCfg.WithMaxSessions(n)
	}
	if n := fileCfg.Session.MaxSessionsPerIP; n > 0 {
		sessCfg = sessCfg.WithMaxSessionsPerIP(n)
	}
	if fileCfg.Session.CheckAddress != nil {
		sessCfg.CheckAddress = *fileCfg.Session.CheckAddress
	}
	if fileCfg.Session.CheckUserAgent != nil {
		sessCfg.CheckUserAgent = *fileCfg.Session.CheckUserAgent
	}

	srv := server.New(srvCfg, sessCfg, demoFactory, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "addr", srvCfg.Addr, "base_path", srvCfg.BasePath)
	return srv.Run(ctx)
}

func buildLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
