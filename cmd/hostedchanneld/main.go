package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wlns-network/hosted-channels/pkg/hc"
	"github.com/wlns-network/hosted-channels/pkg/hc/config"
	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/db/leveldb"
	"github.com/wlns-network/hosted-channels/pkg/hc/metrics"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
	"github.com/wlns-network/hosted-channels/pkg/hc/rpc"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

var (
	configPath = flag.String("config", "./hosted-channels.json", "path to the daemon's config file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

const defaultShutdownTimeout = 5 * time.Second

func parseChainHash(hexStr string) wire.ChainHash {
	var h wire.ChainHash
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != len(h) {
		return h
	}
	copy(h[:], b)
	return h
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	} else if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		level = parsed
	}

	var out = zerolog.ConsoleWriter{Out: os.Stdout}
	if cfg.LogFile != "" {
		out.Out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}
	}
	log := zerolog.New(out).Level(level).With().Timestamp().Logger()

	priv, err := cfg.NodePrivateKey()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse node private key")
	}
	log.Info().Str("pubkey", hex.EncodeToString(priv.PubKey().SerializeCompressed())).Msg("node identity loaded")

	backend, fresh, err := leveldb.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer backend.Close()
	if fresh {
		log.Info().Str("path", cfg.DBPath).Msg("initialized fresh database")
	}
	store := db.NewDB(backend)

	metrics.Register("hostedchannels")

	// The real host node adapter (an RPC client talking to the operator's
	// lnd/c-lightning/eclair instance) lives outside this module's scope;
	// the in-memory Mock stands in for it here.
	n := node.NewMock(priv, parseChainHash(cfg.ChainHashHex))

	master := hc.NewChannelMaster(store, n, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := master.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start channel master")
	}
	defer master.Stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.MetricsListenAddr, metricsMux); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	rpcServer := rpc.NewServer(cfg.ControlAPIListenAddr, master, nil)
	go func() {
		if err := rpcServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control api server stopped")
		}
	}()

	log.Info().
		Str("metrics", cfg.MetricsListenAddr).
		Str("control_api", cfg.ControlAPIListenAddr).
		Msg("hosted-channels daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer shutdownCancel()
	_ = rpcServer.Stop(shutdownCtx)
}
