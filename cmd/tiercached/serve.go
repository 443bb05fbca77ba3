package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/bus"
	redisbus "github.com/unkn0wn-root/tiercache/bus/redis"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/config"
	"github.com/unkn0wn-root/tiercache/hooks/prom"
	"github.com/unkn0wn-root/tiercache/local"
	"github.com/unkn0wn-root/tiercache/local/bigcache"
	charmlog "github.com/unkn0wn-root/tiercache/log/charm"
	"github.com/unkn0wn-root/tiercache/remote"
	"github.com/unkn0wn-root/tiercache/remote/bolt"
	remoteredis "github.com/unkn0wn-root/tiercache/remote/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve GET/PUT/DELETE /v1/cache/{id} and /metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "HTTP listen address")
	f.String("backend", "memory", "remote tier: redis, bolt or memory")
	f.String("redis-addr", "localhost:6379", "redis address (backend=redis)")
	f.String("bolt-path", "tiercache.db", "bbolt file (backend=bolt)")
	f.String("local", "ristretto", "local tier: ristretto or bigcache")
	f.Int64("local-capacity", tiercache.DefaultLocalCapacity, "max L1 entries (ristretto)")
	f.Bool("compress", false, "zstd-compress payloads in the remote tier")
	f.Int("max-value-bytes", 1<<20, "largest accepted document")
	f.String("log-level", "info", "debug, info, warn or error")

	for _, name := range []string{"addr", "backend", "redis-addr", "bolt-path", "local", "local-capacity", "compress", "max-value-bytes", "log-level"} {
		_ = viper.BindPFlag("server."+name, f.Lookup(name))
	}
}

type document = json.RawMessage

func serve(ctx context.Context) error {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(viper.GetString("server.log-level")); err == nil {
		logger.SetLevel(lvl)
	}

	settings, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	if err := checkLocal(viper.GetString("server.local"), settings); err != nil {
		return err
	}

	var (
		store remote.Store
		pub   bus.Publisher
		sub   bus.Subscriber
	)
	switch backend := viper.GetString("server.backend"); backend {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: viper.GetString("server.redis-addr")})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// keep going: the cache degrades until redis shows up
			logger.Warn("redis not reachable at startup", "err", err)
		}
		if store, err = remoteredis.New(remoteredis.Config{Client: rdb}); err != nil {
			return err
		}
		b, err := redisbus.New(redisbus.Config{Client: rdb})
		if err != nil {
			return err
		}
		pub, sub = b, b
	case "bolt":
		if store, err = bolt.Open(viper.GetString("server.bolt-path"), bolt.Options{}); err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
	case "memory":
		store = remote.NewMemory(time.Minute)
	default:
		return fmt.Errorf("unknown backend %q", backend)
	}
	defer store.Close(context.Background())

	if sub == nil {
		hub := bus.NewMemory()
		defer hub.Close()
		pub, sub = hub, hub
	}

	cd, err := buildCodec(settings, viper.GetBool("server.compress"), viper.GetInt("server.max-value-bytes"))
	if err != nil {
		return err
	}

	listener, err := bus.NewListener(sub, settings.InvalidationChannel)
	if err != nil {
		return err
	}
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", settings.InvalidationChannel, err)
	}
	defer listener.Close(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := tiercache.Options[document]{
		Settings:      settings,
		Namespace:     "doc",
		Remote:        store,
		LocalCapacity: viper.GetInt64("server.local-capacity"),
		Publisher:     pub,
		Listener:      listener,
		Codec:         cd,
		Logger:        charmlog.New(logger),
		Hooks:         prom.New(reg, "tiercache", "", prometheus.Labels{"namespace": "doc"}),
	}
	if opts.Local, err = buildLocal(viper.GetString("server.local"), settings, cd); err != nil {
		return err
	}

	cache, err := tiercache.New[document](opts)
	if err != nil {
		return err
	}
	defer cache.Close(context.Background())

	mux := http.NewServeMux()
	newHandler(cache, int64(viper.GetInt("server.max-value-bytes"))).register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              viper.GetString("server.addr"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("serving", "addr", srv.Addr, "backend", viper.GetString("server.backend"), "prefix", settings.KeyPrefix)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func buildCodec(s tiercache.Settings, compress bool, maxBytes int) (codec.Codec[document], error) {
	var cd codec.Codec[document] = codec.JSON[document]{}
	if s.BinarySerializer {
		cd = codec.Msgpack[document]{}
	}
	if compress {
		z, err := codec.NewZstd(cd, zstd.SpeedDefault)
		if err != nil {
			return nil, err
		}
		cd = z
	}
	// compressed or not, never decode more than twice the accepted size
	return codec.Limit[document]{Inner: cd, MaxDecode: 2 * maxBytes}, nil
}

// checkLocal rejects settings the chosen local tier cannot honor.
func checkLocal(kind string, s tiercache.Settings) error {
	switch kind {
	case "ristretto", "":
		return nil
	case "bigcache":
		if s.SlidingExpiration {
			return &tiercache.ConfigError{Errs: []error{
				errors.New("local tier bigcache does not support sliding-expiration"),
			}}
		}
		return nil
	default:
		return &tiercache.ConfigError{Errs: []error{fmt.Errorf("unknown local tier %q", kind)}}
	}
}

func buildLocal(kind string, s tiercache.Settings, cd codec.Codec[document]) (local.Store[document], error) {
	if err := checkLocal(kind, s); err != nil {
		return nil, err
	}
	if kind == "bigcache" {
		return bigcache.New[document](bigcache.Config{LifeWindow: s.LocalTTL}, cd)
	}
	return nil, nil // ristretto is the coordinator default
}
