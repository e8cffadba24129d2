// Command routingmanagerd is the standalone routing manager process: it
// owns the local bus, the network endpoints, and Service Discovery for one
// host, and every application on that host proxies through it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/someip-go/vsomeip"
	"github.com/someip-go/vsomeip/config"
	"github.com/someip-go/vsomeip/policy"
	"github.com/someip-go/vsomeip/routing"
)

const defaultConfigPath = "/etc/vsomeip/vsomeip.json"

func main() {
	os.Exit(run())
}

func run() int {
	var daemonize, quiet bool
	var configPath string

	fs := flag.NewFlagSet("routingmanagerd", flag.ContinueOnError)
	fs.BoolVar(&daemonize, "d", false, "start background processing by re-executing the process detached from the terminal")
	fs.BoolVar(&daemonize, "daemonize", false, "start background processing by re-executing the process detached from the terminal")
	fs.BoolVar(&quiet, "q", false, "suppress console logging")
	fs.BoolVar(&quiet, "quiet", false, "suppress console logging")
	fs.StringVar(&configPath, "c", "", "configuration file path (default: $VSOMEIP_CONFIGURATION or "+defaultConfigPath+")")
	fs.StringVar(&configPath, "config", "", "configuration file path (default: $VSOMEIP_CONFIGURATION or "+defaultConfigPath+")")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [-h|--help] [-d|--daemonize] [-q|--quiet] [-c|--config path]\n", os.Args[0])
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	if configPath == "" {
		configPath = os.Getenv("VSOMEIP_CONFIGURATION")
	}
	if configPath == "" {
		configPath = defaultConfigPath
	}

	if daemonize {
		done, err := daemonizeSelf()
		if err != nil {
			fmt.Fprintf(os.Stderr, "routingmanagerd: daemonize: %v\n", err)
			return 1
		}
		if done {
			return 0
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routingmanagerd: %v\n", err)
		return 1
	}

	logger := slog.New(buildHandler(cfg.Logging, quiet))
	rt := vsomeip.New()
	rt.SetLogger(logger)

	gateway := policy.NewAuditGateway(&policy.RuleGateway{AllowAnyRouter: !cfg.Security.Enable}, logger)
	host, err := vsomeip.NewRoutingHost(rt, cfg, gateway)
	if err != nil {
		logger.Error("failed to construct routing host", "error", err)
		return 1
	}
	host.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(ctx, cancel, host, logger)

	logger.Info("routingmanagerd starting", "host", cfg.Routing.Host, "config", configPath)
	if err := host.Serve(ctx); err != nil {
		logger.Error("routing host exited with error", "error", err)
		return 1
	}
	return 0
}

// watchSignals mirrors the original daemon's signal handler: SIGINT/SIGTERM
// stop the process, SIGUSR1/SIGUSR2 transition the routing state to
// SUSPENDED/RESUMED without stopping it.
func watchSignals(ctx context.Context, cancel context.CancelFunc, host *vsomeip.RoutingHost, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case os.Interrupt, syscall.SIGTERM:
				logger.Info("received shutdown signal", "signal", sig.String())
				cancel()
				return
			case syscall.SIGUSR1:
				logger.Info("received SIGUSR1, suspending routing")
				host.SetRoutingState(routing.StateSuspended)
			case syscall.SIGUSR2:
				logger.Info("received SIGUSR2, resuming routing")
				host.SetRoutingState(routing.StateResumed)
			}
		}
	}
}

func buildHandler(cfg config.Logging, quiet bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if quiet || (!cfg.Console && !cfg.File) {
		return slog.NewTextHandler(io.Discard, opts)
	}
	if cfg.File && cfg.Logfile != "" {
		f, err := os.OpenFile(cfg.Logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			return slog.NewTextHandler(f, opts)
		}
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warning", "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
