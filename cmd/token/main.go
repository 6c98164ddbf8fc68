// Command token mints bearer tokens for local development and smoke tests.
//
//	AUTH_JWT_SECRET=... go run ./cmd/token -user 42 -admin -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sundayezeilo/golinks/internal/auth"
	"github.com/sundayezeilo/golinks/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.Int64("user", 0, "user id placed in the token subject")
	admin := fs.Bool("admin", false, "grant the admin role")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// A missing .env is fine; the variables may already be exported.
	_ = godotenv.Load()

	var cfg config.AuthConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("failed to load Auth config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid Auth config: %w", err)
	}

	signer := auth.NewSigner(&auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.Issuer})
	tok, err := signer.Issue(auth.Principal{UserID: *userID, IsAdmin: *admin}, *ttl)
	if err != nil {
		return err
	}

	fmt.Println(tok)
	return nil
}
