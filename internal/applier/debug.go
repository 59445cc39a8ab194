package applier

import (
	"log/slog"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// MarkdownDebugLogger renders each installed fragment to Markdown and
// logs it via slog, for a human-scannable record of what a navigation
// actually installed without dumping raw HTML.
type MarkdownDebugLogger struct {
	conv *converter.Converter
}

// NewMarkdownDebugLogger builds a reusable, goroutine-safe debug
// logger.
func NewMarkdownDebugLogger() *MarkdownDebugLogger {
	return &MarkdownDebugLogger{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// LogFragment converts html to Markdown and logs it at debug level,
// keyed by the target element id.
func (l *MarkdownDebugLogger) LogFragment(id, html string) {
	md, err := l.conv.ConvertString(html)
	if err != nil {
		slog.Debug("applier: fragment markdown conversion failed", "id", id, "error", err)
		return
	}
	slog.Debug("applier: installed fragment", "id", id, "markdown", md)
}

var _ DebugLogger = (*MarkdownDebugLogger)(nil)
