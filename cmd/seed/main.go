// Command seed populates the database with demo data.
package main

import (
	"flag"
	"log"

	"vantage/internal/config"
	"vantage/internal/database"
	"vantage/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 25, "number of users to create")
	postsPerUser := flag.Int("posts", 8, "posts per user")
	followsPerUser := flag.Int("follows", 6, "follow edges per user")
	clean := flag.Bool("clean", false, "delete existing data first")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}

	err = seed.Seed(db, seed.Options{
		NumUsers:       *numUsers,
		PostsPerUser:   *postsPerUser,
		FollowsPerUser: *followsPerUser,
		ShouldClean:    *clean,
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
}
