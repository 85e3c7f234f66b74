// Package main provides a CLI tool for minting player credentials and
// admin token hashes during development.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/steven-mosley/idleverse/internal/auth"
	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/control"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	userID := flag.String("user", "", "user id to sign a player token for")
	name := flag.String("name", "", "display name claim for the player token")
	ttl := flag.Duration("ttl", 24*time.Hour, "player token lifetime")
	admin := flag.String("admin-token", "", "print the bcrypt hash of this admin token instead")
	flag.Parse()

	if *admin != "" {
		hash, err := control.HashToken(*admin)
		if err != nil {
			log.Fatalf("hashing admin token: %v", err)
		}
		fmt.Fprintf(os.Stdout, "control.admin_token_hash: %q\n", hash)
		return
	}

	if *userID == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *ttl <= 0 {
		log.Fatalf("invalid ttl %s: must be positive", *ttl)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	token, err := auth.NewVerifier(cfg.Auth).Issue(auth.Identity{UserID: *userID, Name: *name}, *ttl)
	if err != nil {
		log.Fatalf("signing token: %v", err)
	}

	fmt.Fprintf(os.Stdout, "%s\n", token)
	fmt.Fprintf(os.Stderr, "issued token for %s, expires %s [%s]\n",
		*userID, time.Now().Add(*ttl).Format(time.RFC3339), time.Since(start))
}
