package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"tools.zach/dev/xcodecord/internal/ax"
	"tools.zach/dev/xcodecord/internal/config"
	"tools.zach/dev/xcodecord/internal/discord"
	"tools.zach/dev/xcodecord/internal/icons"
	"tools.zach/dev/xcodecord/internal/logger"
	"tools.zach/dev/xcodecord/internal/presence"
	"tools.zach/dev/xcodecord/internal/rpc"
	"tools.zach/dev/xcodecord/internal/update"
	"tools.zach/dev/xcodecord/internal/watch"
	"tools.zach/dev/xcodecord/internal/xcode"
)

// runOptions holds the flags shared by the daemon and the inspection
// commands.
type runOptions struct {
	DataDir    string
	Snapshot   string
	Foreground bool
}

// ///////////////////////////////////////////////
// Startup
// ///////////////////////////////////////////////

// runDaemon prepares the data directory, logging and single-instance lock,
// then runs the poll loop until a shutdown signal or ctx ends.
func runDaemon(ctx context.Context, opts runOptions, stderr io.Writer) error {
	dataPaths := DataPaths{Root: opts.DataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if alive, pid := checkStalePID(dataPaths); alive {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig(dataPaths)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	logOpts := logger.Options{Path: dataPaths.Log(), Level: level, MaxSizeMB: cfg.Log.MaxSizeMB}
	if opts.Foreground {
		logOpts.Tee = stderr
	}
	log, logCloser := logger.New(logOpts)
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("xcodecord starting", "version", ver, "data_dir", dataPaths.Root)

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return err
	}
	defer removePID(dataPaths, token, pidFile)

	if cfg.Behavior.CheckUpdates {
		go checkUpdate(ctx, ver)
	}

	sys, err := openSystem(opts.Snapshot)
	if err != nil {
		slog.Error("accessibility backend unavailable", "error", err)
		return err
	}
	if opts.Snapshot != "" {
		slog.Info("replaying snapshot", "path", opts.Snapshot)
	}

	// A nil *Manifest must not reach the mapper as a non-nil interface.
	var ic presence.Icons
	if m, err := icons.Fetch(ctx, dataPaths.Root); err != nil {
		slog.Warn("no icon manifest available, using raw extensions", "error", err)
	} else {
		ic = m
		slog.Info("loaded icon manifest", "icons", len(m.Icons), "aliases", len(m.Aliases))
	}

	d := newDaemon(dataPaths, cfg, level, sys, ic, newDiscordTransport)
	defer d.close()

	watcher := watch.New(dataPaths.Config())
	defer watcher.Close()
	if watcher.Polling() {
		slog.Info("using polling mode for config reload")
	}

	return d.run(ctx, watcher.Events(), signalChannel())
}

// checkUpdate logs when a newer release exists. It never fails the daemon.
func checkUpdate(ctx context.Context, current string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("update check panic", "error", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	update.Check(ctx, current)
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemon wires the extractor, the connection manager and the transport.
// Every component is driven from the goroutine running [daemon.run]; the
// transport's callbacks are queued onto it through events.
type daemon struct {
	dataPaths DataPaths
	cfg       *config.Config
	level     *slog.LevelVar
	icons     presence.Icons
	sys       ax.System

	extractor *xcode.Extractor
	manager   *rpc.Manager
	conn      connection

	// events carries transport callbacks to the loop goroutine.
	events chan func()
	// done is closed on shutdown so blocked callbacks are dropped.
	done chan struct{}

	// awaitingTrust is set while the accessibility grant is pending.
	awaitingTrust bool
	// trustDeadline is when a pending grant gives up; zero waits forever.
	trustDeadline time.Time

	now func() time.Time
}

func newDaemon(dataPaths DataPaths, cfg *config.Config, level *slog.LevelVar, sys ax.System, ic presence.Icons, dial dialer) *daemon {
	d := &daemon{
		dataPaths: dataPaths,
		cfg:       cfg,
		level:     level,
		icons:     ic,
		sys:       sys,
		events:    make(chan func(), 16),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	d.conn = dial(cfg.Discord.AppID, discord.Handler{
		OnConnect: func() {
			d.post(func() { d.manager.OnConnect() })
		},
		OnDisconnect: func(code int, message string) {
			d.post(func() { d.manager.OnDisconnect(code, message) })
		},
		OnError: func(code int, message string) {
			d.post(func() { d.manager.OnError(code, message) })
		},
	})
	d.manager = rpc.NewManager(d.conn, presence.NewMapper(cfg, ic))

	notifier := &presence.Notifier{}
	notifier.Subscribe(d.manager.OnStateChange)
	d.extractor = xcode.New(sys, cfg.Xcode, notifier)
	return d
}

// post queues fn for the loop goroutine, dropping it after shutdown.
func (d *daemon) post(fn func()) {
	select {
	case d.events <- fn:
	case <-d.done:
	}
}

// close ends the transport silently and releases pending callbacks.
func (d *daemon) close() {
	if err := d.conn.Close(); err != nil {
		slog.Debug("closing presence transport", "error", err)
	}
	close(d.done)
}

func (d *daemon) pollInterval() time.Duration {
	return time.Duration(d.cfg.Behavior.PollIntervalSeconds) * time.Second
}

// ///////////////////////////////////////////////
// Event Loop
// ///////////////////////////////////////////////

// run polls Xcode on a ticker, applies queued transport callbacks and
// config reloads, and returns on a signal, ctx cancellation or a permission
// timeout.
func (d *daemon) run(ctx context.Context, reload <-chan struct{}, sig <-chan os.Signal) error {
	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	d.requestTrust()
	if err := d.tick(); err != nil {
		return err
	}

	for {
		select {
		case <-sig:
			slog.Info("received shutdown signal")
			return nil

		case <-ctx.Done():
			return nil

		case fn := <-d.events:
			fn()

		case <-reload:
			if d.reload() {
				ticker.Reset(d.pollInterval())
			}

		case <-ticker.C:
			if err := d.tick(); err != nil {
				return err
			}
		}
	}
}

// requestTrust prompts for the accessibility permission once when it is
// missing and arms the permission timeout.
func (d *daemon) requestTrust() {
	if d.sys.Trusted(false) {
		return
	}
	slog.Warn("accessibility permission missing, prompting")
	d.sys.Trusted(true)
	d.awaitingTrust = true
	if secs := d.cfg.Behavior.PermissionTimeoutSeconds; secs > 0 {
		d.trustDeadline = d.now().Add(time.Duration(secs) * time.Second)
	}
}

// tick runs one poll. While the permission is pending polls are skipped,
// and an expired permission timeout is fatal.
func (d *daemon) tick() error {
	if d.awaitingTrust {
		if !d.sys.Trusted(false) {
			if !d.trustDeadline.IsZero() && d.now().After(d.trustDeadline) {
				logger.Fail(slog.Default(), "accessibility permission not granted, exiting",
					"timeout_seconds", d.cfg.Behavior.PermissionTimeoutSeconds)
				return errNotTrusted
			}
			return nil
		}
		d.awaitingTrust = false
		slog.Info("accessibility permission granted")
	}
	d.extractor.Poll()
	return nil
}

// reload re-reads config.toml and applies it. An invalid file is logged and
// the running config is kept. It reports whether the config changed.
func (d *daemon) reload() bool {
	cfg, err := config.Load(d.dataPaths.Root)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "error", err)
		return false
	}
	if cfg.Discord.AppID != d.cfg.Discord.AppID {
		slog.Warn("discord.app_id changes take effect after restart")
	}

	d.cfg = cfg
	d.level.Set(logger.ParseLevel(cfg.Log.Level))
	d.extractor.SetConfig(cfg.Xcode)
	d.manager.SetMapper(presence.NewMapper(cfg, d.icons))
	slog.Info("config reloaded", "poll_interval_seconds", cfg.Behavior.PollIntervalSeconds)
	return true
}
