package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/EasterCompany/dex-triage-service/config"
	"github.com/EasterCompany/dex-triage-service/endpoints"
	"github.com/EasterCompany/dex-triage-service/handlers"
	"github.com/EasterCompany/dex-triage-service/internal/agent"
	"github.com/EasterCompany/dex-triage-service/internal/bridge"
	"github.com/EasterCompany/dex-triage-service/internal/capture"
	"github.com/EasterCompany/dex-triage-service/internal/logging"
	"github.com/EasterCompany/dex-triage-service/internal/model"
	"github.com/EasterCompany/dex-triage-service/internal/store"
	"github.com/EasterCompany/dex-triage-service/internal/tools"
	"github.com/EasterCompany/dex-triage-service/utils"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   endpoints.ServiceName,
	Short: "Alert triage service with live console streaming",
	Long: `Dexter Triage Service receives alerts, hands them to a team of
specialist agents and streams the agents' work, together with the
service's own console output, to every connected WebSocket client.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage service (default)",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(utils.GetVersion().Str)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./triage.yaml or $HOME/.dex/triage.yaml)")
	rootCmd.AddCommand(serveCmd, versionCmd, demoCmd, tasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

// service holds everything runServe starts, in start order.
type service struct {
	cfg      *config.Config
	logs     *logging.Registry
	redis    *redis.Client
	store    *store.Store
	router   *capture.Router
	model    *model.Client
	executor *handlers.Executor
	http     *http.Server
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Log lines go to the real stderr; records reach subscribers through
	// the log hook, not a second time through the captured descriptor.
	console, err := capture.DupFile(os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = console.Close() }()

	svc := &service{cfg: cfg}
	svc.logs = logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: console})
	logger := svc.logs.Logger(logging.LoggerMain)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.start(ctx); err != nil {
		utils.SetHealthStatus(utils.StatusError, err.Error())
		svc.stop()
		return err
	}

	// Start the core logic in a goroutine
	go func() {
		if err := RunCoreLogic(ctx, svc); err != nil {
			logger.Error("core logic stopped", "error", err)
			cancel()
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting service", "name", endpoints.ServiceName, "addr", svc.http.Addr)
		if err := svc.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down service")
	case err = <-serverErr:
		logger.Error("HTTP server crashed", "error", err)
	}

	utils.SetHealthStatus(utils.StatusShuttingDown, "Service is shutting down")
	svc.stop()
	logger.Info("service exited cleanly")
	return err
}

func (s *service) start(ctx context.Context) error {
	cfg := s.cfg

	if cfg.Redis.Enabled {
		client, err := utils.GetRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		s.redis = client
		s.store = store.New(client, cfg.Redis.TTL)
	}

	streams, err := captureStreams(cfg.Capture.Streams)
	if err != nil {
		return err
	}
	loggers := []capture.LogSource{s.logs.Root()}
	for _, name := range cfg.Capture.Loggers {
		loggers = append(loggers, s.logs.Lookup(name))
	}
	s.router = capture.NewRouter(capture.Options{
		Streams:        streams,
		Loggers:        loggers,
		QueueSize:      cfg.Capture.QueueSize,
		SendTimeout:    cfg.Capture.SendTimeout,
		MaxConcurrency: cfg.Capture.MaxConcurrency,
		Logger:         s.logs.Logger("capture"),
	})
	if cfg.Redis.Mirror && s.redis != nil {
		mirror := capture.NewRedisSubscriber(s.redis, cfg.Redis.Channel, s.logs.Logger("capture"))
		if err := s.router.Subscribe(mirror); err != nil {
			return fmt.Errorf("failed to start console mirror: %w", err)
		}
	}

	s.model = model.NewClient(cfg.Model.URL, cfg.Model.APIKey, cfg.Model.Timeout)
	prompts, err := agent.LoadPrompts(cfg.Agents.Prompts)
	if err != nil {
		return err
	}
	team, err := agent.NewTeam(s.model, buildTools(cfg.Tools), prompts, agent.Config{
		Model:    cfg.Model.Name,
		MaxTurns: cfg.Agents.MaxTurns,
		Members:  cfg.Agents.Members,
	}, s.logs.Logger("agent"))
	if err != nil {
		return err
	}

	s.executor = handlers.NewExecutor(handlers.Options{
		Runner:     bridge.New(team, s.logs.Logger("agent")),
		Background: bridge.RouterPublisher{Router: s.router},
		Recorder:   recorder(s.store),
		Workers:    cfg.Tasks.Workers,
		QueueSize:  cfg.Tasks.QueueSize,
		Timeout:    cfg.Tasks.Timeout,
		Logger:     s.logs.Logger("executor"),
	})

	api := endpoints.NewServer(endpoints.Options{
		Router:   s.router,
		Executor: s.executor,
		Store:    s.store,
		Model:    s.model,
		APIKey:   cfg.Server.APIKey,
		Origins:  cfg.Server.CORSOrigins,
		Logger:   s.logs.Logger(logging.LoggerHTTP),
	})
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logs.Lookup(logging.LoggerHTTP), slog.LevelError),
	}
	return nil
}

// stop shuts down whatever start managed to bring up: the HTTP server,
// then the tasks still running, then console capture, then Redis.
func (s *service) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	logger := s.logs.Logger(logging.LoggerMain)

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
	}
	if s.executor != nil {
		if err := s.executor.Shutdown(ctx); err != nil {
			logger.Error("executor shutdown failed", "error", err)
		}
	}
	if s.router != nil {
		if err := s.router.Close(ctx); err != nil {
			logger.Error("console capture shutdown failed", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Error("failed to close Redis connection", "error", err)
		}
	}
}

func captureStreams(names []string) ([]capture.Stream, error) {
	streams := make([]capture.Stream, 0, len(names))
	for _, name := range names {
		switch name {
		case "stdout":
			streams = append(streams, capture.Stdout())
		case "stderr":
			streams = append(streams, capture.Stderr())
		default:
			return nil, fmt.Errorf("unknown capture stream %q", name)
		}
	}
	return streams, nil
}

// recorder avoids handing the executor a typed nil.
func recorder(s *store.Store) handlers.Recorder {
	if s == nil {
		return nil
	}
	return s
}

// buildTools registers every tool whose settings are present.
func buildTools(cfg config.ToolsConfig) *tools.Registry {
	var list []tools.Tool
	if cfg.Shell.Enabled {
		list = append(list, tools.NewShell(cfg.Shell.Timeout))
	}
	if cfg.AKSEnabled() {
		list = append(list, tools.NewAKSCommand(cfg.AKS.ResourceGroup, cfg.AKS.ClusterName, cfg.Shell.Timeout))
	}
	if cfg.SSHEnabled() {
		list = append(list, &tools.SSHKubectl{
			User:           cfg.SSH.User,
			KeyPath:        cfg.SSH.KeyPath,
			KnownHostsPath: cfg.SSH.KnownHosts,
			Port:           cfg.SSH.Port,
			Timeout:        cfg.Shell.Timeout,
		})
	}
	if cfg.Azure.ClientID != "" {
		list = append(list, tools.NewAzureMonitor(cfg.Azure.Endpoint, tools.AzureCredentials{
			TenantID:     cfg.Azure.TenantID,
			ClientID:     cfg.Azure.ClientID,
			ClientSecret: cfg.Azure.ClientSecret,
		}, 0))
	}
	if cfg.Dynatrace.URL != "" {
		list = append(list, tools.NewDynatrace(cfg.Dynatrace.URL, cfg.Dynatrace.Token, 0))
	}
	return tools.NewRegistry(list...)
}
