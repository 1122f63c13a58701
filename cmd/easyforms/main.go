// Command easyforms serves and inspects form blueprints.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gabrielmiguelok/easyforms/internal/server"
	"github.com/gabrielmiguelok/easyforms/pkg/blueprint"
	"github.com/gabrielmiguelok/easyforms/pkg/forms"
	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

var version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	command := os.Args[1]

	switch command {
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "inspect":
		if len(os.Args) < 3 {
			fmt.Println("Error: blueprint file required")
			fmt.Println("Usage: easyforms inspect <blueprint.yaml>")
			os.Exit(1)
		}
		if err := runInspect(os.Stdout, os.Args[2]); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "version", "-v", "--version":
		fmt.Printf("easyforms v%s\n", version)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`easyforms v%s

Usage: easyforms <command> [arguments]

Commands:
  serve [flags] <blueprint.yaml>...   Serve blueprints over WebSocket and SSE
  inspect <blueprint.yaml>            Print the steps and field keys of a blueprint
  version                             Show version
  help                                Show this help

Serve flags:
  -addr      listen address (default :3000)
  -action    submit URL, "{handle}" is replaced by the blueprint handle
  -csrf      CSRF token sent with every submission
  -origins   comma-separated cross-origin pages allowed to connect
  -debug     log at debug level

Environment:
  EASY_FORMS_RECAPTCHA_SITE_KEY, EASY_FORMS_TRACK_PARAMS,
  EASY_FORMS_TRACK_PREFIX, EASY_FORMS_PRECOGNITION

Examples:
  easyforms inspect forms/contact.yaml
  easyforms serve -action https://cms.example/!/forms/{handle} forms/*.yaml
`, version)
}

func runServe(args []string) error {
	cfg := server.DefaultConfig()

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Form.Submit.Action, "action", "", "submit URL")
	fs.StringVar(&cfg.Form.Submit.CSRFToken, "csrf", "", "CSRF token")
	origins := fs.String("origins", "", "allowed cross-origin pages")
	debug := fs.Bool("debug", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one blueprint file is required")
	}
	if *origins != "" {
		for _, o := range strings.Split(*origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Transport.AllowedOrigins = append(cfg.Transport.AllowedOrigins, o)
			}
		}
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := logging.NewSlogLogger(logging.WithLevel(level), logging.WithJSON())
	logging.SetDefault(logger)

	bps := make([]*blueprint.Blueprint, 0, fs.NArg())
	for _, path := range fs.Args() {
		bp, err := blueprint.LoadFile(path)
		if err != nil {
			return err
		}
		bps = append(bps, bp)
	}

	s, err := server.New(cfg, logger, bps...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Start(ctx)
}

func runInspect(w io.Writer, path string) error {
	bp, err := blueprint.LoadFile(path)
	if err != nil {
		return err
	}

	title := bp.Title
	if title == "" {
		title = bp.Handle
	}
	fmt.Fprintf(w, "%s (%s)\n", title, bp.Handle)

	state := forms.NewState(bp.Fields(), forms.WithLogger(logging.NopLogger{}))
	defer state.Close()

	for i, section := range bp.Sections {
		display := section.Display
		if display == "" {
			display = fmt.Sprintf("Step %d", i+1)
		}
		fmt.Fprintf(w, "\n%d. %s\n", i+1, display)

		for _, f := range section.Fields {
			marker := ""
			if f.Hidden() {
				marker = " (hidden)"
			}
			fmt.Fprintf(w, "   %-24s %s%s\n", f.Handle, f.Type, marker)
		}
	}

	fmt.Fprintln(w, "\nKeys:")
	for _, key := range state.Keys() {
		fmt.Fprintf(w, "   %s\n", key)
	}
	return nil
}
