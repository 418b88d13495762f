package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ubcore/config"
	"ubcore/engine"
	"ubcore/messaging"
	"ubcore/metrics"
	"ubcore/statecache"
	"ubcore/store"
	"ubcore/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "ubcore.yaml", "path to config file")
	initConfig := flag.Bool("init-config", false, "write the effective config to -config and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("ubcore", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("write config: %v", err)
		}
		log.Printf("ubcore: wrote %s", *configPath)
		return
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("ubcore: database open (%s)", db.Dialect().Name())

	// Redis status cache
	var cache statecache.Backend
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("ubcore: redis not available (%v), reads fall back to SQL", err)
		} else {
			log.Printf("ubcore: redis connected (%s)", cfg.Redis.Address)
		}
		cancel()
		cache = statecache.NewRedisStore(redisClient)
	}

	// Messaging client
	var msgClient *messaging.Client
	if cfg.Messaging.Backend != "none" {
		c := messaging.NewClient(&cfg.Messaging)
		if err := c.Connect(); err != nil {
			log.Printf("ubcore: messaging connect failed (%v), events stay in the outbox", err)
		} else {
			log.Printf("ubcore: messaging connected (%s)", c.Backend())
			msgClient = c
			defer c.Close()
		}
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		MsgClient:  msgClient,
		Cache:      cache,
		Metrics:    metrics.NewCollector(),
	})
	eng.Start()
	defer eng.Stop()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("ubcore: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("ubcore: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("ubcore: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("ubcore: stopped")
}
