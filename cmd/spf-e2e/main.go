// Command spf-e2e exercises a navigation against a real headless tab
// and compares the tab's document title with the title the framework's
// htmldom holds after the same navigation, as a manual sanity check.
// No other part of the document is compared.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/use-agent/spfgo/config"
	"github.com/use-agent/spfgo/internal/dom/htmldom"
	"github.com/use-agent/spfgo/internal/dom/rodbridge"
	"github.com/use-agent/spfgo/spf"
)

func main() {
	url := flag.String("url", "", "URL to navigate")
	headless := flag.Bool("headless", true, "launch the browser headless")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if *url == "" {
		slog.Error("missing -url")
		os.Exit(1)
	}

	doc, err := htmldom.New(`<html><head></head><body></body></html>`)
	if err != nil {
		slog.Error("build predicted document", "error", err)
		os.Exit(1)
	}

	cfg := config.Load()
	f, err := spf.Init(cfg, doc, nil, nil, nil, nil)
	if err != nil {
		// This command only ever drives f.Load, which never touches
		// history, so ErrHistoryUnsupported is expected and harmless here.
		slog.Warn("framework initialized without history tracking", "error", err)
	}
	defer f.Dispose()

	done := make(chan error, 1)
	f.Load(*url, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			slog.Error("framework load failed", "url", *url, "error", err)
			os.Exit(1)
		}
	case <-time.After(30 * time.Second):
		slog.Error("framework load timed out", "url", *url)
		os.Exit(1)
	}

	bridge, err := rodbridge.Launch(rodbridge.Config{Headless: *headless})
	if err != nil {
		slog.Error("launch browser", "error", err)
		os.Exit(1)
	}
	defer bridge.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bridge.Navigate(ctx, *url); err != nil {
		slog.Error("browser navigate", "error", err)
		os.Exit(1)
	}

	liveTitle, err := bridge.Title(ctx)
	if err != nil {
		slog.Error("read live title", "error", err)
		os.Exit(1)
	}

	predicted := doc.Title()
	if liveTitle == predicted {
		slog.Info("title matches", "title", predicted)
	} else {
		slog.Warn("title mismatch", "predicted", predicted, "live", liveTitle)
	}
}
