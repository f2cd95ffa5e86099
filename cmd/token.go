package cmd

import (
	"fmt"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/config"
)

// runToken mints a signed bearer token for local testing:
//
//	parley token alice | xargs -I{} curl -H "Authorization: Bearer {}" ...
func runToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: parley token <user-id>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewVerifier(cfg.AuthSecret)
	fmt.Println(verifier.Sign(args[0], cfg.AuthTokenTTL))
	return nil
}
