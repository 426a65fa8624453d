// Package testutil provides shared test environment helpers for E2E tests
// that run the built binary against a live CloudStack server. It depends
// only on stdlib so that E2E tests (which cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the E2E suite.
const (
	EnvE2EBaseURL      = "CLOUDSTACK_E2E_BASE_URL"
	EnvE2EUsername     = "CLOUDSTACK_E2E_USERNAME"
	EnvE2EPassword     = "CLOUDSTACK_E2E_PASSWORD"
	EnvE2EAllowedHosts = "CLOUDSTACK_E2E_ALLOWED_HOSTS"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// Server is a live CloudStack account the E2E suite may write to.
type Server struct {
	BaseURL  string
	Username string
	Password string
}

// RequireServer reads the E2E server settings and crashes unless the host
// of the base URL is listed in CLOUDSTACK_E2E_ALLOWED_HOSTS. The suite
// uploads and purges files, so it must never run against an account by
// accident.
func RequireServer() Server {
	s := Server{
		BaseURL:  os.Getenv(EnvE2EBaseURL),
		Username: os.Getenv(EnvE2EUsername),
		Password: os.Getenv(EnvE2EPassword),
	}

	for name, v := range map[string]string{
		EnvE2EBaseURL:  s.BaseURL,
		EnvE2EUsername: s.Username,
		EnvE2EPassword: s.Password,
	} {
		if v == "" {
			fatalf("%s not set", name)
		}
	}

	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" {
		fatalf("%s=%q is not an absolute URL", EnvE2EBaseURL, s.BaseURL)
	}

	allowlist := os.Getenv(EnvE2EAllowedHosts)
	if allowlist == "" {
		fatalf("%s not set\nExample: %s=localhost:7000", EnvE2EAllowedHosts, EnvE2EAllowedHosts)
	}

	for _, h := range strings.Split(allowlist, ",") {
		if strings.TrimSpace(h) == u.Host {
			return s
		}
	}

	fatalf("host %q is not in %s=%q", u.Host, EnvE2EAllowedHosts, allowlist)

	return s
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
