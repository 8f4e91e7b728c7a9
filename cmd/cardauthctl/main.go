package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uvaco/cardauth/internal/token"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) get(path string) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func main() {
	var (
		baseURL = envOr("CARDAUTH_URL", "http://localhost:8080")
		apiKey  = envOr("CARDAUTH_ANON_KEY", "")
		out     = envOr("CARDAUTH_OUT", "text")
	)

	root := &cobra.Command{
		Use:   "cardauthctl",
		Short: "Operational CLI for the cardauth exchange service",
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "service base URL (env CARDAUTH_URL)")
	root.PersistentFlags().StringVar(&apiKey, "apikey", apiKey, "deployment public key (env CARDAUTH_ANON_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "output format: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cl.BaseURL, cl.APIKey, cl.OutFormat = baseURL, apiKey, out
	}

	diagCmd := &cobra.Command{
		Use:   "diag <provider>",
		Short: "Fetch the configuration-presence diagnostic for one provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.get("/v1/auth/" + args[0] + "/exchange")
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("diag returned status %d", status)
			}
			return nil
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect and verify session tokens",
	}

	var secret string
	inspectCmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode a session token's claims and expiry without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok := args[0]
			parts := strings.Split(tok, ".")
			if len(parts) != 3 {
				return fmt.Errorf("not a compact JWT")
			}
			raw, err := base64.RawURLEncoding.DecodeString(parts[1])
			if err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			var claims map[string]any
			if err := json.Unmarshal(raw, &claims); err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			p, _ := json.MarshalIndent(claims, "", "  ")
			fmt.Println(string(p))
			fmt.Printf("subject=%s expired=%v\n", token.DecodeSubjectUnsafe(tok), token.IsExpired(tok))
			if secret != "" {
				fmt.Printf("signature_valid=%v\n", token.VerifyHS256(tok, secret))
			}
			return nil
		},
	}
	inspectCmd.Flags().StringVar(&secret, "secret", "", "also check the signature against this secret")

	tokenCmd.AddCommand(inspectCmd)
	root.AddCommand(diagCmd, tokenCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
