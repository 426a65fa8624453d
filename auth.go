package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cloudstack-files/cloudstack-go/internal/api"
)

// envPassword lets scripts log in without a prompt.
const envPassword = "CLOUDSTACK_PASSWORD"

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the session",
		Long: `Sign in with username and password. The password is read from
CLOUDSTACK_PASSWORD when set, otherwise prompted for without echo.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().StringP("username", "u", "", "account username")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved session and API endpoint",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	username, err := cmd.Flags().GetString("username")
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())

	if username == "" {
		username, err = promptLine(in, cmd.ErrOrStderr(), "Username: ")
		if err != nil {
			return err
		}
	}

	password, err := readPassword(in, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	return withSession(cmd.Context(), func(sess *Session) error {
		if _, err := sess.Tokens.Login(cmd.Context(), username, password); err != nil {
			return err
		}

		statusf("Logged in as %s.\n", username)

		return nil
	})
}

// readPassword takes the password from the environment, then from a
// no-echo terminal prompt, then from the next line of input.
func readPassword(in *bufio.Reader, prompt io.Writer) (string, error) {
	if pw := os.Getenv(envPassword); pw != "" {
		return pw, nil
	}

	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int on supported platforms
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")

		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(pw), nil
	}

	return promptLine(in, io.Discard, "")
}

func promptLine(in *bufio.Reader, prompt io.Writer, label string) (string, error) {
	fmt.Fprint(prompt, label)

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		if err := sess.Tokens.Logout(cmd.Context()); err != nil {
			return err
		}

		statusf("Logged out.\n")

		return nil
	})
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	BaseURL         string     `json:"base_url"`
	SessionStore    string     `json:"session_store"`
	SessionPath     string     `json:"session_path,omitempty"`
	LoggedIn        bool       `json:"logged_in"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	UserID          string     `json:"user_id,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Expired         bool       `json:"expired"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withSession(cmd.Context(), func(sess *Session) error {
		out, err := collectStatus(cmd.Context(), sess)
		if err != nil {
			return err
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}

		printStatusText(cmd.OutOrStdout(), out)

		return nil
	})
}

func collectStatus(ctx context.Context, sess *Session) (*statusOutput, error) {
	out := &statusOutput{
		BaseURL:      resolvedCfg.API.BaseURL,
		SessionStore: resolvedCfg.Session.Store,
		SessionPath:  resolvedCfg.SessionPath(),
	}

	tok, err := sess.Tokens.Current(ctx)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return out, nil
	}

	out.LoggedIn = true
	out.HasRefreshToken = tok.RefreshToken != ""

	// Opaque tokens are valid; they just carry nothing to display.
	claims, err := api.InspectAccessToken(tok.AccessToken)
	if err != nil {
		sess.Logger.Debug("access token is not a readable JWT", "error", err)
		return out, nil
	}

	out.UserID = claims.UserID

	if !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		out.ExpiresAt = &exp
		out.Expired = claims.Expired(time.Now())
	}

	return out, nil
}

func printStatusText(w io.Writer, s *statusOutput) {
	fmt.Fprintf(w, "API:      %s\n", s.BaseURL)

	if s.SessionPath != "" {
		fmt.Fprintf(w, "Session:  %s (%s)\n", s.SessionPath, s.SessionStore)
	} else {
		fmt.Fprintf(w, "Session:  %s\n", s.SessionStore)
	}

	if !s.LoggedIn {
		fmt.Fprintln(w, "Status:   not logged in")
		return
	}

	fmt.Fprintln(w, "Status:   logged in")

	if s.UserID != "" {
		fmt.Fprintf(w, "User ID:  %s\n", s.UserID)
	}

	if s.ExpiresAt != nil {
		verb := "expires"
		if s.Expired {
			// The next request refreshes it.
			verb = "expired"
		}

		fmt.Fprintf(w, "Token:    %s %s\n", verb, humanize.Time(*s.ExpiresAt))
	}

	if !s.HasRefreshToken {
		fmt.Fprintln(w, "Refresh:  none (log in again when the access token expires)")
	}
}
