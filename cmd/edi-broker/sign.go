package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/nexus-ops/edi-broker/internal/config"
	"github.com/nexus-ops/edi-broker/internal/middleware"
)

// runSign computes the X-EDI authentication headers for a request body so
// operators can call the signed endpoints with plain curl.
func runSign(args []string) error {
	if len(args) > 0 && (args[0] == "help" || args[0] == "--help") {
		printSignHelp()
		return nil
	}

	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	file := fs.String("file", "", "request body file (default: stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	body, err := readSignBody(*file)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	secret, err := resolveSigningSecret()
	if err != nil {
		return err
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := middleware.Sign(secret, timestamp, body)

	fmt.Printf("%s: %s\n", middleware.HeaderTimestamp, timestamp)
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, signature)
	return nil
}

func printSignHelp() {
	fmt.Fprintf(os.Stderr, `Usage: edi-broker sign [options]

Computes the X-EDI authentication headers for a request body. The body is
read from --file, or from stdin when --file is omitted. The secret comes
from the usual configuration chain; with none configured you are prompted.

Options:
  --file PATH   read the request body from PATH instead of stdin

Examples:
  edi-broker sign --file body.json
  printf '{"message":"hi"}' | EDI_AUTH_SECRET=s3cret edi-broker sign
`)
}

func readSignBody(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// resolveSigningSecret follows the server's own secret chain and falls back
// to an interactive prompt, so signatures always match what the broker
// verifies.
func resolveSigningSecret() ([]byte, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if secret := cfg.Auth.ResolveSecret(); len(secret) > 0 {
		return secret, nil
	}

	s, err := promptSecret("Signing secret: ")
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return []byte(s), nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after secret input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
