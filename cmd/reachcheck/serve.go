package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/danialdehvan/ReachCheck/pkg/config"
	"github.com/danialdehvan/ReachCheck/pkg/netinfo"
	"github.com/danialdehvan/ReachCheck/pkg/server"
)

const shutdownGrace = 5 * time.Second

// ServeCmd runs the diagnostic HTTP server until interrupted
type ServeCmd struct {
	Overrides
	Fallback        string `help:"What unknown paths get: notfound or home" env:"REACHCHECK_FALLBACK"`
	InstallFirewall bool   `help:"Create the firewall rule before serving" name:"install-firewall" env:"REACHCHECK_INSTALL_FIREWALL"`
	NoProbe         bool   `help:"Skip the startup network report" name:"no-probe" env:"REACHCHECK_NO_PROBE"`
}

func (s *ServeCmd) Run(app *App) error {
	if s.Fallback != "" {
		if s.Fallback != config.FallbackNotFound && s.Fallback != config.FallbackHome {
			return usageErr(fmt.Errorf("unknown fallback %q", s.Fallback))
		}
	}
	cfg, err := app.configure(s.Overrides)
	if err != nil {
		return err
	}
	if s.Fallback != "" {
		cfg.Fallback = s.Fallback
	}
	c := app.classifier(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := netinfo.CheckPort(cfg.Port); err != nil {
		return bindError(cfg.Port, err)
	}

	if s.InstallFirewall {
		if err := installRule(ctx, app, cfg); err != nil {
			app.Log.Warnw("Could not install firewall rule, run as administrator or allow the port manually",
				"name", cfg.FirewallRuleName, "error", err)
		}
	}

	probe, closeProbe := app.probe(cfg, c, true)
	defer closeProbe()

	if !s.NoProbe {
		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout()+time.Second)
		snap := probe.Snapshot(pctx, "")
		cancel()
		fmt.Println(renderReport(snap, cfg.Port))
	}

	host, _ := os.Hostname()
	started := time.Now()
	dispatcher := server.New(server.Options{
		Host:        host,
		Port:        cfg.Port,
		Classifier:  c,
		Fallback:    server.ParseFallback(cfg.Fallback),
		Diagnostics: probe,
		Logger:      app.Log,
		Started:     started,
	})

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return bindError(cfg.Port, err)
	}

	srv := &http.Server{
		Handler:           gzhttp.GzipHandler(dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	app.Log.Infow("Server listening", "port", cfg.Port, "fallback", cfg.Fallback,
		"rules", len(c.Rules()), "unknown_label", c.UnknownLabel())

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.Log.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Log.Warnw("Forced shutdown", "error", err)
	}
	app.Log.Infow("Server stopped", "uptime", time.Since(started).Truncate(time.Second).String())
	return nil
}

// bindError turns a listen failure into advice for the console
func bindError(port int, err error) error {
	switch {
	case errors.Is(err, syscall.EADDRINUSE):
		return fmt.Errorf("port %d is already in use: stop the other program, pass --port, "+
			"or run as administrator if the port is reserved: %w", port, err)
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES):
		return fmt.Errorf("no permission to bind port %d: run as administrator (root) "+
			"or pass --port with a port above 1023: %w", port, err)
	default:
		return fmt.Errorf("binding port %d: %w (run as administrator or free the port)", port, err)
	}
}

func installRule(ctx context.Context, app *App, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout()*2)
	defer cancel()
	return app.firewallManager().InstallRule(ctx, cfg.FirewallRuleName, cfg.Port)
}
