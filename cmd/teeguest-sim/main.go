package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/aspect-build/teeguest/internal/logx"
	"github.com/aspect-build/teeguest/internal/simulator"
	"github.com/aspect-build/teeguest/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or TEEGUEST_LOG_LEVEL)")
	listen := flag.String("listen", "", "Listen address or socket path (overrides TEEGUEST_SIM_LISTEN)")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("teeguest-sim"))
		fmt.Fprintf(os.Stderr, "teeguest-sim serves the guest agent and legacy tappd APIs with software registers\n")
		fmt.Fprintf(os.Stderr, "and unsigned quotes, for development outside a TDX guest.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  TEEGUEST_SIM_CONFIG    YAML config file (optional)\n")
		fmt.Fprintf(os.Stderr, "  TEEGUEST_SIM_LISTEN    TCP address or Unix socket path (default: %s)\n", simulator.DefaultListenAddr)
		fmt.Fprintf(os.Stderr, "  TEEGUEST_SIM_SEED      Key derivation seed, hex or text (default: random per start)\n")
		fmt.Fprintf(os.Stderr, "  TEEGUEST_SIM_APP_ID    Application id (default: derived from the seed)\n")
		fmt.Fprintf(os.Stderr, "  TEEGUEST_SIM_APP_NAME  Application name\n")
		fmt.Fprintf(os.Stderr, "  TEEGUEST_LOG_LEVEL     Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nPoint clients at it with DSTACK_SIMULATOR_ENDPOINT.\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("teeguest-sim"))
		os.Exit(0)
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}
	if !logx.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := simulator.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	sim, err := simulator.New(*cfg)
	if err != nil {
		log.Fatalf("init simulator: %v", err)
	}

	ln, err := simulator.Listen(cfg.ListenAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Infof("simulator config: app_id=%s app_name=%s boot_events=%d", sim.AppID(), cfg.AppName, len(cfg.BootEvents))
	log.Printf("teeguest-sim listening on %s", cfg.ListenAddr)
	if err := sim.Serve(ctx, ln); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
