// Command issue-token provisions investigator credentials. It prints a fresh
// API key together with the auth.investigators entry holding its Argon2id
// hash. With -login it instead exchanges an existing key for a JWT against a
// running monitor's configuration, which is handy for scripted API calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"solana-forensics/config"
	"solana-forensics/internal/service"
	"solana-forensics/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	id := flag.String("id", "", "investigator id")
	name := flag.String("name", "", "investigator display name")
	login := flag.Bool("login", false, "exchange -key for a JWT using the configured directory")
	key := flag.String("key", "", "API key to exchange when -login is set")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "-id is required")
		os.Exit(2)
	}

	if *login {
		if err := issueJWT(*id, *key); err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	apiKey, err := service.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	hash, err := service.NewArgon2HashService().Hash(apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (store it now, it is not recoverable): %s\n\n", apiKey)
	fmt.Println("auth:")
	fmt.Println("  investigators:")
	fmt.Printf("    - id: %q\n", *id)
	fmt.Printf("      name: %q\n", *name)
	fmt.Printf("      key_hash: %q\n", hash)
}

func issueJWT(id, key string) error {
	_ = godotenv.Load()
	cfg, err := config.Load(os.Getenv("SFE_CONFIG_FILE"))
	if err != nil {
		return err
	}
	log := logger.New("warn", false)

	tokens := service.NewJWTTokenService(cfg.Auth.JWT.Secret, cfg.Auth.JWT.Expiry, cfg.Auth.JWT.Issuer)
	trail := service.NewAuditTrail(nil, 0, log)
	auth := service.NewAuthService(cfg.Auth.Investigators, service.NewArgon2HashService(), tokens, trail)

	token, expiry, err := auth.Login(context.Background(), id, key, "cli")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expiry.UTC().Format("2006-01-02T15:04:05Z"))
	return nil
}
