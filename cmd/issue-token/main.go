// Команда issue-token выпускает JWT кассира для REST, gRPC и live-ленты.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/pos/internal/identity"
)

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, out io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id (cashier) the token is issued for")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	secret := fs.String("secret", "", "HMAC secret (fallback: POS_JWT_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*owner) == "" {
		return errors.New("-owner is required")
	}
	if *ttl <= 0 {
		return errors.New("-ttl must be positive")
	}
	if strings.TrimSpace(*secret) == "" {
		_ = godotenv.Load()
		*secret = getenv("POS_JWT_SECRET")
	}

	resolver, err := identity.NewJWTResolver(*secret)
	if err != nil {
		return err
	}
	token, err := resolver.Issue(strings.TrimSpace(*owner), *ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
