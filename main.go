package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/adminpanel/adminapi"
	"github.com/briangreenhill/adminpanel/internal/config"
	"github.com/briangreenhill/adminpanel/resources"
)

const version = "v0.1.0"

func main() {
	if err := runCLI(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: adminpanel <command> [arguments]")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  help                          Show this help message")
	fmt.Fprintln(w, "  version                       Print the version")
	fmt.Fprintln(w, "  resources                     List the admin API resources")
	fmt.Fprintln(w, "  get <resource> <id>           Fetch one record as JSON")
	fmt.Fprintln(w, "  list <resource> [key=value]   Fetch one page of a resource as JSON")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  ADMINPANEL_BASE_URL           Admin API base URL (required for get/list)")
	fmt.Fprintln(w, "  ADMINPANEL_API_KEY            API key sent as X-API-Key")
	fmt.Fprintln(w, "  ADMINPANEL_CLIENT_ID, ADMINPANEL_CLIENT_SECRET, ADMINPANEL_TOKEN_URL")
	fmt.Fprintln(w, "                                OAuth2 client credentials (optional)")
}

func runCLI(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errors.New("no command given")
	}

	switch args[0] {
	case "help", "--help", "-h":
		usage(out)
	case "version", "--version", "-v":
		fmt.Fprintf(out, "adminpanel %s\n", version)
	case "resources":
		return printJSON(out, resources.Default().All())
	case "get":
		if len(args) != 3 {
			return errors.New("usage: adminpanel get <resource> <id>")
		}
		res, err := resource(ctx, args[1])
		if err != nil {
			return err
		}
		var v json.RawMessage
		if err := res.GetFresh(ctx, args[2], &v); err != nil {
			return fmt.Errorf("get %s %s: %w", args[1], args[2], err)
		}
		return printJSON(out, v)
	case "list":
		if len(args) < 2 {
			return errors.New("usage: adminpanel list <resource> [key=value...]")
		}
		params, err := parseParams(args[2:])
		if err != nil {
			return err
		}
		res, err := resource(ctx, args[1])
		if err != nil {
			return err
		}
		page, err := res.List(ctx, params)
		if err != nil {
			return fmt.Errorf("list %s: %w", args[1], err)
		}
		return printJSON(out, page)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

// parseParams turns key=value arguments into list params
func parseParams(args []string) (adminapi.ListParams, error) {
	q := url.Values{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return adminapi.ListParams{}, fmt.Errorf("invalid parameter %q, want key=value", a)
		}
		q.Set(k, v)
	}
	return adminapi.ParseListParams(q), nil
}

func resource(ctx context.Context, name string) (*adminapi.Resource, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	lvl, _ := cfg.Level()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	client, err := adminapi.New(cfg.API.BaseURL,
		adminapi.WithHTTPClient(cfg.HTTPClient(ctx)),
		adminapi.WithAPIKey(cfg.API.APIKey),
		adminapi.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return client.Resource(name)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
