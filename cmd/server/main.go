package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/star08-web/noughtchat/internal/api"
	"github.com/star08-web/noughtchat/internal/config"
	"github.com/star08-web/noughtchat/internal/database"
	"github.com/star08-web/noughtchat/internal/server"
	"github.com/star08-web/noughtchat/internal/stats"
)

var (
	addr           string
	dsn            string
	allowedOrigins string
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string (empty for the in-memory store)")
	flag.StringVar(&allowedOrigins, "allowed-origins", "", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[noughtchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	var db database.NoughtRepository
	if cfg.DatabaseDSN != "" {
		pg, err := database.NewPgNoughtRepository(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("db open:", err)
		}
		db = pg
	} else {
		logger.Println("no dsn given, using in-memory store")
		db = database.NewMemNoughtRepository()
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, db, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewNoughtApp(mux, logger, chatServer, db, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
