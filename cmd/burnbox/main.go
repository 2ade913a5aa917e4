package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/burnbox/cache"
	"github.com/tcriess/burnbox/cleanup"
	"github.com/tcriess/burnbox/config"
	"github.com/tcriess/burnbox/drop"
	"github.com/tcriess/burnbox/files"
	"github.com/tcriess/burnbox/globals"
	"github.com/tcriess/burnbox/objstore"
	"github.com/tcriess/burnbox/room"
	"github.com/tcriess/burnbox/store"
	"github.com/tcriess/burnbox/web"
	"github.com/tcriess/burnbox/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	st, err := store.NewStore(cfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	objects, err := objstore.NewObjectStore(cfg)
	if err != nil {
		panic(err)
	}
	if objects != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := objects.EnsureBucket(ctx); err != nil {
			cancel()
			panic(err)
		}
		cancel()
	} else {
		globals.AppLogger.Warn("no object store configured, file endpoints disabled")
	}

	rooms, err := cache.NewRoomCache(st, cfg.CacheConfig.Size, cfg.CacheConfig.TTL())
	if err != nil {
		panic(err)
	}

	registry := ws.NewRegistry()
	relay := ws.NewRelay(st, rooms, registry, cfg.RelayConfig.QueueSize, cfg.LimitsConfig.MaxMessageBytes)

	fileSvc := files.NewService(st, objects, cfg.LimitsConfig.MaxRoomTTL())
	dropSvc := drop.NewService(st, objects)
	roomMgr := room.NewManager(st, fileSvc, registry, cfg.LimitsConfig.MaxRoomTTL())

	reconciler := cleanup.NewReconciler(st, objects)
	if err := reconciler.Start(cfg.CleanupConfig.Interval(), cfg.CleanupConfig.RunOnStart); err != nil {
		panic(err)
	}

	server := web.NewServer(roomMgr, fileSvc, dropSvc, relay, st, cfg.LimitsConfig.MaxUploadBytes)
	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.Router(),
	}

	errChan := make(chan error, 1)
	go func() {
		globals.AppLogger.Info("listening", "addr", *addr, "tls", *sslCert != "" && *sslKey != "")
		if *sslCert != "" && *sslKey != "" {
			errChan <- httpServer.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			errChan <- httpServer.ListenAndServe()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		globals.AppLogger.Info("shutting down", "signal", sig.String())
	case err := <-errChan:
		globals.AppLogger.Error("stopped listening", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		globals.AppLogger.Error("could not shut down http server", "error", err)
	}
	reconciler.Stop()
	if err := relay.Stop(ctx); err != nil {
		globals.AppLogger.Error("could not drain persistence queue", "error", err)
	}
}
