// Command migrate applies the database schema.
package main

import (
	"log"
	"os"

	"vantage/internal/config"
	"vantage/internal/database"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Connect already migrates outside production; force it here so the
	// command works in every environment.
	cfg.Env = "production"
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	log.Println("schema applied")
	os.Exit(0)
}
