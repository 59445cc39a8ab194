// Command spf-mcp exposes the navigation framework as MCP tools over
// stdio, for driving navigations from an MCP-speaking client instead
// of a browser click.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/spfgo/config"
	"github.com/use-agent/spfgo/internal/dom/htmldom"
	"github.com/use-agent/spfgo/internal/history"
	"github.com/use-agent/spfgo/internal/pubsub"
	"github.com/use-agent/spfgo/spf"
)

// memoryHistory stands in for a browser's History API: this process has
// no real address bar, but it does have in-process state a navigation
// can push to, which is all Navigate needs to avoid the unsupported
// full-page-load gate.
type memoryHistory struct {
	mu  sync.Mutex
	url string
}

func (m *memoryHistory) PushState(url string, _ history.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}
func (m *memoryHistory) ReplaceState(url string, _ history.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}
func (m *memoryHistory) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func main() {
	doc, err := htmldom.New(`<html><head></head><body></body></html>`)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build document:", err)
		os.Exit(1)
	}

	cfg := config.Load()
	f, err := spf.Init(cfg, doc, &memoryHistory{}, nil, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init framework:", err)
		os.Exit(1)
	}
	defer f.Dispose()

	s := server.NewMCPServer(
		"spf",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	navigateTool := mcp.NewTool("navigate",
		mcp.WithDescription("Navigate the framework's document to url, applying the fetched response and updating history."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to navigate to"),
		),
	)
	s.AddTool(navigateTool, handleNavigate(f, doc))

	prefetchTool := mcp.NewTool("prefetch",
		mcp.WithDescription("Prime the cache for url without applying it to the document."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to prefetch"),
		),
	)
	s.AddTool(prefetchTool, handlePrefetch(f))

	cacheStatsTool := mcp.NewTool("cache_stats",
		mcp.WithDescription("Report the number of live entries in the response cache."),
	)
	s.AddTool(cacheStatsTool, handleCacheStats(f))

	queueStatsTool := mcp.NewTool("queue_stats",
		mcp.WithDescription("Report how many tasks remain pending on a named per-navigation queue."),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("The queue key, e.g. navigate-1"),
		),
	)
	s.AddTool(queueStatsTool, handleQueueStats(f))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func handleNavigate(f *spf.Framework, doc *htmldom.Document) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		done := make(chan error, 1)
		f.Subscribe(pubsub.KindDone, func(args ...any) {
			select {
			case done <- nil:
			default:
			}
		})
		f.Subscribe(pubsub.KindError, func(args ...any) {
			var navErr error
			if len(args) > 0 {
				if e, ok := args[0].(error); ok {
					navErr = e
				}
			}
			if navErr == nil {
				navErr = fmt.Errorf("navigation failed")
			}
			select {
			case done <- navErr:
			default:
			}
		})

		f.Navigate(url)

		select {
		case err := <-done:
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("navigated to %s, title now %q", url, doc.Title())), nil
		case <-ctx.Done():
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
	}
}

func handlePrefetch(f *spf.Framework) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		done := make(chan error, 1)
		f.Prefetch(url, func(err error) { done <- err })

		select {
		case err := <-done:
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("prefetched %s", url)), nil
		case <-ctx.Done():
			return mcp.NewToolResultError(ctx.Err().Error()), nil
		}
	}
}

func handleCacheStats(f *spf.Framework) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprintf("%d entries cached", f.CacheLen())), nil
	}
}

func handleQueueStats(f *spf.Framework) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := request.RequireString("key")
		if err != nil {
			return mcp.NewToolResultError("key is required"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%d tasks pending on %q", f.QueueLen(key), key)), nil
	}
}
