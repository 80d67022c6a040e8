package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
	"github.com/zsprackett/cursor-balance/internal/cookies"
	"github.com/zsprackett/cursor-balance/internal/scrape"
	"github.com/zsprackett/cursor-balance/internal/webserver"
)

func statusCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the last stored usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.store.Load()
			if err != nil {
				return fmt.Errorf("load record: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			printStatus(out, rec, time.Now(), isTerminal(os.Stdout))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw record as JSON")
	return cmd
}

func refreshCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch usage once and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.newPoller(pollerDeps{}).Fetch(cmd.Context()) {
				return errRefreshFailed
			}
			rec, err := e.store.Load()
			if err != nil {
				return fmt.Errorf("load record: %w", err)
			}
			printStatus(cmd.OutOrStdout(), rec, time.Now(), isTerminal(os.Stdout))
			return nil
		},
	}
}

func loginCmd(cfgPath *string) *cobra.Command {
	var cookieFile string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a cursor.com session from cookies.txt or a pasted token",
		Long: "Without --cookies, prompts for the value of the " + cookies.SessionCookieName +
			" cookie, or a whole Cookie header, copied from the browser's developer tools.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			if cookieFile != "" {
				f, err := os.Open(cookieFile)
				if err != nil {
					return err
				}
				defer f.Close()
				parsed, err := cookies.ParseNetscape(f)
				if err != nil {
					return fmt.Errorf("parse %s: %w", cookieFile, err)
				}
				n, err := e.jar.Import(parsed)
				if err != nil {
					return fmt.Errorf("import cookies: %w", err)
				}
				fmt.Fprintf(out, "Imported %d cookies for %s\n", n, e.jar.Domain())
			} else {
				token, err := readSecret(cmd, cookies.SessionCookieName+": ")
				if err != nil {
					return err
				}
				switch {
				case token == "":
					return fmt.Errorf("no token given")
				case strings.Contains(token, "="):
					// a whole Cookie header copied from a request
					if _, err := e.jar.Import(cookies.ParseHeader(e.jar.Domain(), token)); err != nil {
						return fmt.Errorf("import cookies: %w", err)
					}
				default:
					if err := e.jar.SetSessionToken(token); err != nil {
						return fmt.Errorf("save token: %w", err)
					}
				}
			}

			if !e.newPoller(pollerDeps{}).Fetch(cmd.Context()) {
				return fmt.Errorf("session saved but cursor.com did not accept it")
			}
			rec, err := e.store.Load()
			if err == nil && rec.User != nil {
				fmt.Fprintf(out, "Logged in as %s\n", rec.User.Email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cookieFile, "cookies", "", "Netscape cookies.txt exported from the browser")
	return cmd
}

// readSecret prompts on stderr and reads a line without echo when stdin is
// a terminal.
func readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	if isTerminal(os.Stdin) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func logoutCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session and usage data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if !e.newPoller(pollerDeps{}).Logout(cmd.Context()) {
				return fmt.Errorf("logout failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func scrapeCmd(cfgPath *string) *cobra.Command {
	var (
		pageURL string
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "scrape FILE",
		Short: "Sum the usage table of a saved dashboard page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			sums, _, err := scrape.ScrapeFile(args[0], pageURL)
			if err != nil {
				return err
			}
			if sums == nil {
				return fmt.Errorf("%s is not a rendered usage dashboard", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), scrape.RenderSummary(*sums, e.cfg.Scrape.MaxBalance))

			if noStore {
				return nil
			}
			return e.newPoller(pollerDeps{}).SaveDetailed(cmd.Context(), balance.DetailedUsage{
				Total:  sums.Total,
				Auto:   sums.Auto,
				Others: sums.Others,
				Source: balance.SourcePage,
			})
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "page URL when the file has no cursorbal:url meta tag")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "print the summary without saving it")
	return cmd
}

func badgeCmd(cfgPath *string) *cobra.Command {
	var tmux bool
	cmd := &cobra.Command{
		Use:   "badge",
		Short: "Print the usage badge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.store.Load()
			if err != nil {
				return fmt.Errorf("load record: %w", err)
			}
			b := recordBadge(rec)
			if tmux {
				fmt.Fprintln(cmd.OutOrStdout(), b.Tmux())
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), b.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tmux, "tmux", false, "print a tmux status-line fragment")
	return cmd
}

func recordBadge(rec balance.Record) badge.Badge {
	if !rec.IsLoggedIn {
		return badge.Unknown
	}
	return badge.ForUsage(rec.Usage)
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(*cfgPath, false)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Webserver.Auth.JWTSecret == "" {
				return fmt.Errorf("no JWT secret configured")
			}
			tok, err := webserver.IssueAccessToken(e.cfg.Webserver.Auth.JWTSecret, subject, e.cfg.TokenTTL())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject, shown in the server log")
	return cmd
}
