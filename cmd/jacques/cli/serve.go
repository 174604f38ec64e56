package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacquesio/jacques/internal/api"
	"github.com/jacquesio/jacques/internal/archive"
	"github.com/jacquesio/jacques/internal/config"
	"github.com/jacquesio/jacques/internal/handoff"
	"github.com/jacquesio/jacques/internal/logging"
	"github.com/jacquesio/jacques/internal/mock"
	"github.com/jacquesio/jacques/internal/notify"
	"github.com/jacquesio/jacques/internal/paths"
	"github.com/jacquesio/jacques/internal/pipeline"
	"github.com/jacquesio/jacques/internal/registry"
	"github.com/jacquesio/jacques/internal/terminal"
	"github.com/jacquesio/jacques/internal/ws"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	configPath string
	demo       bool
	apiPort    int
	wsPort     int
	socketPath string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the jacques daemon",
		Long: `Serve runs the daemon: the hook-event socket, the HTTP API, and the
WebSocket fan-out. On startup it discovers already-running sessions from
live processes and recent transcripts; with --demo it serves scripted
synthetic sessions instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "server config file (default <jacques home>/config.yaml)")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "generate scripted demo sessions instead of discovering real ones")
	cmd.Flags().IntVar(&opts.apiPort, "api-port", 0, "override the HTTP API port")
	cmd.Flags().IntVar(&opts.wsPort, "ws-port", 0, "override the WebSocket port")
	cmd.Flags().StringVar(&opts.socketPath, "socket", "", "override the hook event socket path")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	home, err := paths.Home()
	if err != nil {
		return fmt.Errorf("resolve jacques home: %w", err)
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("create jacques home: %w", err)
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(home, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if opts.apiPort != 0 {
		cfg.Server.APIPort = opts.apiPort
	}
	if opts.wsPort != 0 {
		cfg.Server.WSPort = opts.wsPort
	}
	if opts.socketPath != "" {
		cfg.Socket.Path = opts.socketPath
	}

	log := logging.Setup(cfg.Log.Level, cfg.Log.Format).With("component", "serve")

	pidPath := paths.PIDFile(home)
	if err := acquirePIDFile(pidPath); err != nil {
		return err
	}
	defer releasePIDFile(pidPath)

	settings, err := config.LoadSettings(paths.ConfigFile(home))
	if err != nil {
		log.Warn("settings unreadable, using defaults", "error", err)
		settings = config.DefaultSettings()
	}

	transcriptRoot := cfg.Transcripts.Root
	if transcriptRoot == "" {
		transcriptRoot, err = paths.TranscriptRoot()
		if err != nil {
			return fmt.Errorf("resolve transcript root: %w", err)
		}
	}
	projectsDir := paths.ProjectsDir(transcriptRoot)
	sessionsIdx := paths.OpenIndexStore(paths.SessionsIndexFile(home))

	reg := registry.New(registry.Config{
		SettingsPath: paths.SettingsFile(transcriptRoot),
		WindowSize:   cfg.WindowSize,
	}, nil)
	notifier := notify.New(settings, nil)
	hub := ws.NewHub(reg, notifier, terminal.NewActivator(), cfg.Registry.SubscriberQueue)
	reg.SetSink(hub)
	notifier.SetSink(hub.NotificationFired)

	handoffs := handoff.NewManager(func(ev handoff.Event) {
		switch ev.Kind {
		case handoff.KindHandoff:
			notifier.ObserveHandoff(ev.SessionID, ev.Path)
			hub.HandoffReady(ev.SessionID, ev.Path)
		case handoff.KindPlan:
			notifier.ObservePlan(ev.SessionID, ev.Path)
			hub.PlanDetected(ev.SessionID, ev.Path)
		}
	})
	defer handoffs.Close()

	router := pipeline.NewRouter(reg, notifier, handoffs)

	sock, err := pipeline.Listen(cfg.Socket.Path, router)
	if err != nil {
		return err
	}
	defer sock.Close()

	store, err := archive.Open(home, projectsDir, sessionsIdx)
	if err != nil {
		return err
	}

	apiSrv := api.NewServer(cfg.Server.Host, cfg.Server.APIPort, api.Deps{
		Registry:   reg,
		Archive:    store,
		Sessions:   sessionsIdx,
		Router:     router,
		Hub:        hub,
		Notifier:   notifier,
		SocketPath: sock.Path(),
		Version:    Version,
	})
	if err := apiSrv.Start(); err != nil {
		return err
	}

	wsSrv := ws.NewServer(cfg.Server.Host, cfg.Server.WSPort, hub)
	if err := wsSrv.Start(); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		apiSrv.Shutdown(shutdownCtx)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.demo {
		log.Info("demo mode: serving scripted sessions")
		mock.NewGenerator(router, filepath.Join(os.TempDir(), "jacques-demo")).Start(ctx)
	} else {
		discovery := registry.NewDiscovery(reg, projectsDir, cfg.Transcripts.ProcessNames, cfg.Registry.DiscoveryWindow, sessionsIdx)
		go func() {
			n, err := discovery.Run(ctx)
			if err != nil {
				log.Warn("startup discovery failed", "error", err)
				return
			}
			log.Info("startup discovery complete", "sessions", n)
		}()
	}
	go registry.NewJanitor(reg, cfg.Registry.JanitorInterval).Run(ctx)

	errCh := make(chan error, 3)
	go func() { errCh <- sock.Serve() }()
	go func() { errCh <- apiSrv.Serve() }()
	go func() { errCh <- wsSrv.Serve() }()

	log.Info("jacques is up",
		"version", Version,
		"api", apiSrv.Addr().String(),
		"ws", wsSrv.Addr().String(),
		"socket", sock.Path())

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		if runErr != nil {
			log.Error("server failed", "error", runErr)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", "error", err)
	}
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("ws shutdown", "error", err)
	}
	if err := sock.Close(); err != nil {
		log.Warn("socket close", "error", err)
	}
	if err := sessionsIdx.Flush(); err != nil {
		log.Warn("sessions index flush", "error", err)
	}

	log.Info("jacques stopped")
	return runErr
}
