// Command camreplay replays a directory of dashcam clips headlessly: every
// camera is decoded in lockstep with the master camera, composited into a
// grid, and optionally written out as a PNG when playback ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/camreplay/internal/collection"
	"github.com/zsiec/camreplay/internal/layout"
	"github.com/zsiec/camreplay/internal/media"
	"github.com/zsiec/camreplay/internal/metrics"
	"github.com/zsiec/camreplay/internal/playback"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	dir := envOr("REPLAY_DIR", ".")
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	cfg := config{
		dir:         dir,
		metricsAddr: envOr("METRICS_ADDR", ":9464"),
		layout:      envOr("LAYOUT", layout.DefaultLayout),
		master:      media.Camera(envOr("MASTER", string(media.CameraFront))),
		snapshot:    os.Getenv("SNAPSHOT"),
		fps:         envFloat("FPS", 0),
		startMs:     int64(envFloat("START_MS", 0)),
	}

	slog.Info("camreplay starting",
		"version", version,
		"dir", cfg.dir,
		"layout", cfg.layout,
		"master", cfg.master,
		"metrics", cfg.metricsAddr,
	)

	if err := run(ctx, cfg); err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	dir         string
	metricsAddr string
	layout      string
	master      media.Camera
	snapshot    string
	fps         float64
	startMs     int64
}

type app struct {
	cfg        config
	ctrl       *playback.Controller
	compositor *layout.Compositor
	statusCh   chan playback.Status
}

func run(ctx context.Context, cfg config) error {
	grid, err := layout.Lookup(cfg.layout)
	if err != nil {
		return err
	}
	segments, err := scanDir(cfg.dir, cfg.fps)
	if err != nil {
		return err
	}

	m := metrics.New()
	a := &app{
		cfg:        cfg,
		compositor: layout.NewCompositor(grid, 320, 240, true),
		statusCh:   make(chan playback.Status, 16),
	}
	a.ctrl = playback.New(playback.Config{
		NewDecoder: newPlaceholderDecoder,
		Metrics:    m,
		Handlers: playback.Handlers{
			OnRender: a.compositor.Render,
			OnError: func(err error) {
				slog.Warn("playback error", "error", err)
			},
			OnStatus: a.onStatus,
		},
	})

	metricsSrv := &http.Server{
		Addr:    cfg.metricsAddr,
		Handler: m.Handler(),
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return a.ctrl.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("metrics server listening", "addr", cfg.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer stop()
		return a.replay(gctx, segments)
	})

	return g.Wait()
}

// replay selects the recording, plays it to the end, and writes the
// snapshot.
func (a *app) replay(ctx context.Context, segments []collection.Segment) error {
	if len(segments) == 1 {
		if err := a.ctrl.SelectStreams(ctx, a.cfg.master, segments[0].Sources...); err != nil {
			return err
		}
	} else if err := a.ctrl.SelectCollection(a.cfg.master, segments); err != nil {
		return err
	}

	if a.cfg.startMs > 0 {
		if err := a.ctrl.SeekToMs(a.cfg.startMs); err != nil {
			return err
		}
	}
	if err := a.ctrl.Play(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-a.statusCh:
			if st.Mode != playback.Paused {
				continue
			}
			slog.Info("playback finished", "position", st.Clock, "frame", st.Frame, "session", st.Session)
			return a.writeSnapshot()
		}
	}
}

func (a *app) onStatus(st playback.Status) {
	slog.Debug("status", "mode", st.Mode, "clock", st.Clock, "frame", st.Frame,
		"frames", st.Frames, "load", st.Load, "segment", st.Cursor.Segment)
	select {
	case a.statusCh <- st:
	default:
	}
}

func (a *app) writeSnapshot() error {
	if a.cfg.snapshot == "" {
		return nil
	}
	f, err := os.Create(a.cfg.snapshot)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	defer f.Close()
	if err := a.compositor.WritePNG(f); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	slog.Info("snapshot written", "path", a.cfg.snapshot)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid number", "key", key, "value", v)
		return fallback
	}
	return f
}
