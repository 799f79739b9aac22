package commands

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
	"github.com/maksimkurb/hosts-redirect/src/internal/config"
	"github.com/maksimkurb/hosts-redirect/src/internal/lifecycle"
	"github.com/maksimkurb/hosts-redirect/src/internal/log"
	"github.com/maksimkurb/hosts-redirect/src/internal/networking"
)

// apiShutdownTimeout bounds the graceful stop of the API server.
const apiShutdownTimeout = 10 * time.Second

func CreateServiceCommand() *ServiceCommand {
	return &ServiceCommand{
		fs: flag.NewFlagSet("service", flag.ExitOnError),
	}
}

type ServiceCommand struct {
	fs  *flag.FlagSet
	cfg *config.Config
	ctx *AppContext

	lock       *lifecycle.InstanceLock
	controller *lifecycle.Controller

	httpServer *http.Server
	apiRunner  *RestartableRunner
}

func (s *ServiceCommand) Name() string {
	return s.fs.Name()
}

func (s *ServiceCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx

	if err := s.fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath)
	if err != nil {
		return err
	}
	s.cfg = cfg

	if cfg.Capture.Enable {
		if err := networking.CheckInterfaces(cfg.Capture.Interfaces); err != nil {
			return fmt.Errorf("failed to validate interfaces: %v", err)
		}
	}

	lock, err := lifecycle.AcquireInstanceLock(lockPath(cfg))
	if err != nil {
		return err
	}
	s.lock = lock

	deps, err := lifecycle.NewDependencies(cfg)
	if err != nil {
		s.lock.Release()
		return fmt.Errorf("failed to create dependencies: %w", err)
	}

	controller, err := lifecycle.NewController(cfg, deps)
	if err != nil {
		s.lock.Release()
		return err
	}
	s.controller = controller

	return nil
}

func (s *ServiceCommand) Run() error {
	defer s.lock.Release()

	log.Infof("Starting hosts-redirect service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	s.controller.Boot(ctx)

	if s.cfg.API.Enable {
		if err := s.startAPIServer(ctx, s.cfg.API.GetBind()); err != nil {
			log.Errorf("Failed to start API server: %v", err)
			log.Warnf("Control API will not be available")
		}
	} else {
		log.Infof("Control API is disabled")
	}

	log.Infof("Service started successfully.")
	log.Infof("Send SIGHUP to reload rules, SIGUSR1 to refresh capture rules")

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			log.Infof("Received SIGHUP signal, reloading rules...")
			if report, err := s.controller.Reload(); err != nil {
				log.Errorf("Failed to reload rules, keeping the previous set: %v", err)
			} else {
				log.Infof("Rules reloaded: %d loaded, %d skipped", report.Loaded, report.Skipped)
			}

		case syscall.SIGUSR1:
			log.Infof("Received SIGUSR1 signal, refreshing capture...")
			if err := s.controller.Refresh(); err != nil {
				log.Errorf("Failed to refresh capture: %v", err)
			} else {
				log.Infof("Capture refreshed successfully")
			}

		case syscall.SIGINT, syscall.SIGTERM:
			log.Infof("Received signal %v, shutting down...", sig)
			return s.shutdown()
		}
	}
	return nil
}

// startAPIServer starts the control API under a restartable runner.
func (s *ServiceCommand) startAPIServer(ctx context.Context, bindAddr string) error {
	log.Infof("Starting control API on %s", bindAddr)
	log.Infof("Access restricted to private subnets only:")
	log.Infof("  IPv4: 10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16, 127.0.0.0/8")
	log.Infof("  IPv6: fc00::/7, fe80::/10, ::1/128")

	s.httpServer = &http.Server{
		Addr:        bindAddr,
		Handler:     api.NewRouter(s.ctx.ConfigPath, s.controller),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: /dns-check streams
		IdleTimeout: 60 * time.Second,
	}

	s.apiRunner = NewRestartableRunner(RunnerConfig{
		Name:           "API server",
		RestartBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
	}, func(runCtx context.Context) error {
		log.Infof("API server listening on http://%s/api/v1", bindAddr)
		err := s.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	return s.apiRunner.Start(ctx)
}

// shutdown stops the interceptor first so capture rules are always removed,
// then the API server.
func (s *ServiceCommand) shutdown() error {
	log.Infof("Shutting down hosts-redirect service...")

	var shutdownErr error
	if err := s.controller.Shutdown(); err != nil {
		log.Errorf("Failed to stop interceptor: %v", err)
		shutdownErr = err
	}

	if s.httpServer != nil {
		log.Infof("Stopping API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during API server shutdown: %v", err)
			s.httpServer.Close()
		}
	}

	if s.apiRunner != nil {
		s.apiRunner.Stop()
	}

	log.Infof("Service stopped")
	return shutdownErr
}
