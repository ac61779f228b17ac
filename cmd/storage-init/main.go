package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/jeajq/jobtracker/api"
	"github.com/jeajq/jobtracker/storage"
)

func main() {
	_ = godotenv.Load()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tables, err := storage.New(connStr, api.StorageNamesFromEnv())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := tables.Provision(ctx); err != nil {
		log.Fatalf("provision: %v", err)
	}

	db, err := storage.OpenSQLite(api.EnvString("SQLITE_PATH", "jobtracker.db"))
	if err != nil {
		log.Fatalf("sqlite: %v", err)
	}
	defer db.Close()
	if err := storage.NewPostings(db).Migrate(ctx); err != nil {
		log.Fatalf("migrate postings: %v", err)
	}

	log.Info("storage init complete")
}
