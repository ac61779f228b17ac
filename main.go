package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/api"
	"github.com/jeajq/jobtracker/storage"
	"github.com/jeajq/jobtracker/subscription"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}

	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing storage config")
	}
	tables, err := storage.New(connStr, api.StorageNamesFromEnv())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if os.Getenv("PROVISION_STORAGE") == "1" {
		if err := tables.Provision(ctx); err != nil {
			log.Fatalf("provision storage: %v", err)
		}
		logger.Info("storage provisioned")
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedisOptions(redisConn))

	cache := storage.NewCache(tables, rc, api.EnvDur("CACHE_TTL", time.Minute))
	hub := subscription.NewHub(rc, cache, api.EnvString("BOARD_UPDATES_CHANNEL", "board-updates"), logger)
	go hub.Run(ctx)
	store := storage.NewBoard(cache, hub, logger)

	db, err := storage.OpenSQLite(api.EnvString("SQLITE_PATH", "jobtracker.db"))
	if err != nil {
		log.Fatalf("sqlite: %v", err)
	}
	defer db.Close()
	postings := storage.NewPostings(db)
	if err := postings.Migrate(ctx); err != nil {
		log.Fatalf("migrate postings: %v", err)
	}

	moveKeys := api.NewMoveKeys(rc, api.EnvDur("MOVE_KEY_TTL", 24*time.Hour))

	pool := api.NewWritePool(api.PoolConfigFromEnv(), logger)
	defer pool.Close()
	sessions := api.NewSessions(store, pool.Dispatch, api.EnvDur("WRITE_TIMEOUT", 10*time.Second), logger)

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))

	api.Register(e, api.Dependencies{
		Board:    store,
		Postings: postings,
		Profiles: tables,
		Auth:     auth,
		Moves:    moveKeys,
		Sessions: sessions,
		Logger:   logger,
	})

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	} else if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

// parseRedisOptions accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
