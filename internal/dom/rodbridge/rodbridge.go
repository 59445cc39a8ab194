// Package rodbridge drives a real headless tab through go-rod so a
// navigation can be replayed against it and diffed against htmldom's
// predicted tree — an optional collaborator (spec.md §1's "debug
// logging"/verification tooling), not part of the navigation critical
// path.
package rodbridge

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/stealth"
)

// Config controls the launched browser.
type Config struct {
	Headless  bool
	NoSandbox bool
	BrowserBin string
}

// Bridge owns one browser and one page, launched stealthily so the
// diffed page behaves like it would for a real visitor.
type Bridge struct {
	browser *rod.Browser
	page    *rod.Page
}

// Launch starts a headless browser and opens a single stealth-patched
// page.
func Launch(cfg Config) (*Bridge, error) {
	l := launcher.New().Headless(cfg.Headless).NoSandbox(cfg.NoSandbox)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rodbridge: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("rodbridge: connect browser: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("rodbridge: open stealth page: %w", err)
	}

	return &Bridge{browser: browser, page: page}, nil
}

// Navigate loads url and waits for the page to settle.
func (b *Bridge) Navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("rodbridge: navigate %s: %w", url, err)
	}
	return p.WaitLoad()
}

// Title reads the live page's document title, the same field htmldom
// predicts via SetTitle.
func (b *Bridge) Title(ctx context.Context) (string, error) {
	var title string
	err := b.page.Context(ctx).Timeout(5*time.Second).Eval(`() => document.title`).Unmarshal(&title)
	return title, err
}

// ElementText reads the live rendered text of the element matching
// selector, for diffing against an applied body fragment.
func (b *Bridge) ElementText(ctx context.Context, selector string) (string, error) {
	el, err := b.page.Context(ctx).Timeout(5*time.Second).Element(selector)
	if err != nil {
		return "", fmt.Errorf("rodbridge: find %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("rodbridge: read text of %s: %w", selector, err)
	}
	return text, nil
}

// Close releases the browser process.
func (b *Bridge) Close() error {
	return b.browser.Close()
}
