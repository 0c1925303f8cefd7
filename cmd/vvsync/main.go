package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/httplog"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/micksolo/VanishVoice-sub000/internal/syncserver"
)

func main() {
	logger := httplog.NewLogger("vvsync", httplog.Options{JSON: false})

	dbURL := os.Getenv("DATABASE_URL")
	var db *sql.DB
	if dbURL == "" {
		log.Print("DATABASE_URL not set; running without PostgreSQL persistence")
	} else {
		var err error
		db, err = sql.Open("pgx", dbURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if err := syncserver.Migrate(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	srv := syncserver.New(db)
	defer srv.Close()

	addr := os.Getenv("VV_SYNC_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	log.Printf("sync server running at %s", addr)
	if err := http.ListenAndServe(addr, httplog.RequestLogger(logger)(srv.Router())); err != nil {
		log.Fatalf("sync server stopped: %v", err)
	}
}
