package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mwsrs/reviews/internal/config"
	"github.com/mwsrs/reviews/internal/offline/daemon"
	"github.com/mwsrs/reviews/internal/offline/dashboard"
	"github.com/mwsrs/reviews/internal/offline/proxy"
	"github.com/mwsrs/reviews/internal/offline/sync"
	"github.com/mwsrs/reviews/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the request interceptor, replay daemon and dashboard",
	Long: `Run the offline layer in front of the web client.

Point the browser (or its proxy setting) at proxy.listen. Requests for the
API origin are answered cache-first from the local store; everything else
is a static asset served from the versioned asset cache.

Queued writes are replayed:
  - at startup
  - when daemon.trigger_file is touched
  - on SIGUSR1
  - on POST /sync to the dashboard

The dashboard (dashboard.port) serves /ws, /health and /metrics.
SIGHUP rotates the log file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("precache", true, "fetch the precache list into the asset cache at startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	precache, _ := cmd.Flags().GetBool("precache")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(proxy.Metrics()...)

	var replayer *daemon.Daemon
	dash := dashboard.NewServer(&dashboard.Config{
		Addr:     cfg.Dashboard.Addr(),
		Registry: registry,
		OnSync:   func() { replayer.Notify() },
		Logger:   logs.Logger("dashboard"),
	})
	events := dashboard.NewHandler(dash, logs.Logger("dashboard"))

	a, err := openApp(sync.WithObserver(events))
	if err != nil {
		return err
	}
	defer a.Close()

	if n, err := a.coord.PendingCount(ctx); err == nil {
		events.UpdateStats(n)
	}

	replayer, err = daemon.New(a.coord, &daemon.Config{
		TriggerFile:      cfg.Daemon.TriggerFile,
		DebounceInterval: cfg.Daemon.Debounce,
		PassTimeout:      cfg.Daemon.PassTimeout,
		Logger:           logs.Logger("daemon"),
	})
	if err != nil {
		return err
	}

	manifest, err := loadManifest()
	if err != nil {
		return err
	}
	assets, err := proxy.NewAssetCache(manifest.CacheName, cfg.Cache.Size, a.store)
	if err != nil {
		return err
	}
	interceptor, err := proxy.New(a.coord, a.api, assets, proxy.Config{
		StaticOrigin: cfg.Proxy.StaticOrigin,
		Logger:       logs.Logger("proxy"),
	})
	if err != nil {
		return err
	}

	if err := dash.Start(); err != nil {
		return err
	}
	defer dash.Stop()

	srv := &http.Server{
		Addr:              cfg.Proxy.Listen,
		Handler:           interceptor,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	daemonDone := make(chan error, 1)
	go func() { daemonDone <- replayer.Start(ctx) }()

	if precache {
		go func() {
			n, err := interceptor.Precache(ctx, manifest.Assets)
			if err != nil {
				logs.Logger("proxy").Printf("Precache incomplete (%d/%d): %v", n, len(manifest.Assets), err)
				return
			}
			if _, err := interceptor.Activate(ctx); err != nil {
				logs.Logger("proxy").Printf("Activate failed: %v", err)
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGHUP)
	defer signal.Stop(signals)

	loader.Watch(func(next *config.Config) {
		if sections := changedSections(cfg, next); len(sections) > 0 {
			logs.Logger("config").Printf("%s changed; restart rr serve to apply", sections)
		}
	}, func(err error) {
		logs.Logger("config").Printf("Ignoring config change: %v", err)
	})

	fmt.Printf("%s Interceptor on http://%s (API %s, static %s)\n",
		ui.RenderPass("✓"), cfg.Proxy.Listen, cfg.API.BaseURL, cfg.Proxy.StaticOrigin)
	fmt.Printf("%s Dashboard on http://%s\n", ui.RenderPass("✓"), dash.GetAddr())
	fmt.Println(ui.RenderMuted("Press Ctrl+C to stop..."))

	for {
		select {
		case sig := <-signals:
			switch sig {
			case syscall.SIGUSR1:
				replayer.Notify()
			case syscall.SIGHUP:
				if err := logs.Rotate(); err != nil {
					logs.Logger("rr").Printf("Log rotation failed: %v", err)
				}
			}

		case err, ok := <-serveErr:
			if ok && err != nil {
				stop()
				<-daemonDone
				return fmt.Errorf("interceptor failed: %w", err)
			}
			serveErr = nil

		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logs.Logger("proxy").Printf("Shutdown error: %v", err)
			}
			return <-daemonDone
		}
	}
}

func loadManifest() (*proxy.Manifest, error) {
	if cfg.Cache.Manifest == "" {
		m := proxy.DefaultManifest()
		m.CacheName = cfg.Cache.Name
		return m, nil
	}
	return proxy.LoadManifest(cfg.Cache.Manifest)
}

// changedSections names the top-level config sections that differ.
func changedSections(old, next *config.Config) []string {
	var out []string
	ov, nv := reflect.ValueOf(*old), reflect.ValueOf(*next)
	for i := 0; i < ov.NumField(); i++ {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			out = append(out, ov.Type().Field(i).Tag.Get("mapstructure"))
		}
	}
	return out
}
