// Checks a server's token endpoints end to end without touching any saved
// session: logs in, invalidates the access token, and lists files so the
// gateway has to refresh and retry once.
//
// Usage: CLOUDSTACK_PASSWORD=... go run ./cmd/cloudstack-login-probe -base-url http://localhost:7000/api -username alice
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
	"github.com/cloudstack-files/cloudstack-go/internal/credstore"
)

func main() {
	baseURL := flag.String("base-url", "http://localhost:7000/api", "API base URL")
	username := flag.String("username", "", "account username")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := probe(context.Background(), *baseURL, *username, os.Getenv("CLOUDSTACK_PASSWORD"), logger); err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %s\n", api.ErrorMessage(err))
		os.Exit(1)
	}

	fmt.Println("Login, refresh, and retry all succeeded.")
}

func probe(ctx context.Context, baseURL, username, password string, logger *slog.Logger) error {
	if username == "" || password == "" {
		return fmt.Errorf("-username and CLOUDSTACK_PASSWORD are required")
	}

	store := credstore.NewMemory()
	httpClient := &http.Client{Timeout: 30 * time.Second}
	headers := api.NewHeaderBuilder(store, "cloudstack-login-probe", logger)
	tokens := api.NewTokenService(baseURL, httpClient, store, headers, logger)
	client := api.NewClient(api.NewGateway(baseURL, httpClient, headers, tokens, logger), logger)

	tok, err := tokens.Login(ctx, username, password)
	if err != nil {
		return err
	}

	fmt.Printf("logged in; refresh token present: %t\n", tok.RefreshToken != "")

	if err := store.Set(ctx, credstore.KeyAccessToken, "probe-invalidated"); err != nil {
		return err
	}

	files, err := client.ListFiles(ctx)
	if err != nil {
		return err
	}

	fresh, err := store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		return err
	}

	if fresh == "probe-invalidated" {
		return fmt.Errorf("listing succeeded without refreshing the access token")
	}

	fmt.Printf("listed %d files after refresh\n", len(files))

	return nil
}
