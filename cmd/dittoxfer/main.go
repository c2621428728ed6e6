package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/pkg/adapter"
	"github.com/marmos91/dittoxfer/pkg/admin"
	"github.com/marmos91/dittoxfer/pkg/client"
	"github.com/marmos91/dittoxfer/pkg/config"
	"github.com/marmos91/dittoxfer/pkg/server"
)

const usage = `DittoXfer - rate-capped file transfer server

Usage:
  dittoxfer <command> [flags]

Commands:
  serve   Start the server (reads admin commands from stdin)
  get     Fetch a file from a running server
  init    Write a default configuration file

Run 'dittoxfer <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "get":
		err = runGet(args)
	case "init":
		err = runInit(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittoxfer/config.yaml)")
	terminal := fs.Bool("terminal", true, "Read admin commands from stdin (also requires admin.terminal)")
	port := fs.Int("port", 0, "Override adapters.xfer.port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Adapters.Xfer.Port = *port
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}

	fmt.Println("DittoXfer - rate-capped file transfer server")

	watchLogLevel(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	store, err := config.CreateContentStore(ctx, &cfg.Content, m.S3Metrics)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("Error closing content store: %v", err)
			}
		}()
	}

	adapters, err := config.CreateAdapters(cfg, store, m.XferMetrics)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	if m.Server != nil {
		srv.SetMetricsServer(m.Server)
	}

	logServeConfig(cfg)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	if *terminal && cfg.Admin.Terminal {
		if ctl := findController(adapters); ctl != nil {
			go func() {
				if err := admin.RunTerminal(ctx, os.Stdin, os.Stdout, ctl); err != nil {
					logger.Error("Admin terminal: %v", err)
				}
			}()
		}
	}

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.Xfer.Port)

	if err := <-serverDone; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// watchLogLevel applies logging.level changes from the config file without a
// restart.
func watchLogLevel(configPath string) {
	err := config.Watch(configPath, func(cfg *config.Config, err error) {
		if err != nil {
			logger.Warn("Ignoring config change: %v", err)
			return
		}
		if cfg.Logging.Level != logger.GetLevel().String() {
			logger.SetLevel(cfg.Logging.Level)
			logger.Info("Log level changed to %s", cfg.Logging.Level)
		}
	})
	if err != nil {
		logger.Debug("Config file not watched: %v", err)
	}
}

func findController(adapters []adapter.Adapter) admin.Controller {
	for _, a := range adapters {
		if ctl, ok := a.(admin.Controller); ok {
			return ctl
		}
	}
	return nil
}

func logServeConfig(cfg *config.Config) {
	x := cfg.Adapters.Xfer

	logger.Info("Server configuration:")
	logger.Info("  Address: %s:%d", x.BindAddress, x.Port)
	logger.Info("  Content store: %s", cfg.Content.Type)
	if x.MaxConnections > 0 {
		logger.Info("  Max connections: %d", x.MaxConnections)
	} else {
		logger.Info("  Max connections: unlimited")
	}
	logger.Info("  Read timeout: %v", x.ReadTimeout)
	logger.Info("  Write timeout: %v", x.WriteTimeout)
	logger.Info("  Rate limit: mode=%s send_delay=%v bytes_per_second=%d burst=%d",
		x.RateLimit.Mode, x.RateLimit.SendDelay, x.RateLimit.BytesPerSecond, x.RateLimit.Burst)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	if cfg.Server.Metrics.Enabled {
		logger.Info("  Metrics: enabled on port %d", cfg.Server.Metrics.Port)
	}
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	addr := fs.String("addr", "localhost:9000", "Server address (host:port)")
	outDir := fs.String("out", ".", "Directory to save the file in")
	dialTimeout := fs.Duration("dial-timeout", 10*time.Second, "Connection timeout")
	retries := fs.Int("retries", 0, "Additional connection attempts on failure")
	maxSize := fs.Int("max-size", client.DefaultMaxResponseSize, "Largest response accepted, in bytes")
	logLevel := fs.String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: dittoxfer get [flags] <filename>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one filename is required")
	}
	filename := fs.Arg(0)

	logger.SetLevel(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(client.Config{
		Address:         *addr,
		DialTimeout:     *dialTimeout,
		MaxRetries:      *retries,
		MaxResponseSize: *maxSize,
	})

	start := time.Now()
	data, err := c.Fetch(ctx, filename)
	if errors.Is(err, client.ErrNotAvailable) {
		return fmt.Errorf("file %q is not available on %s", filename, *addr)
	}
	if err != nil {
		return err
	}

	path, err := client.SaveResponse(*outDir, filename, data, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("Received %d bytes in %v, saved to %s\n", len(data), time.Since(start).Round(time.Millisecond), path)
	return nil
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	configPath := fs.String("config", "", "Where to write the config (default: $XDG_CONFIG_HOME/dittoxfer/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}
