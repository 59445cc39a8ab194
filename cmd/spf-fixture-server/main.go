// Command spf-fixture-server serves SPF multipart responses for
// manually and automatically exercising internal/transport and the
// navigation controller against a real HTTP round trip, the way a
// handwritten backend would.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/spfgo/internal/wire"
)

// part mirrors the subset of internal/wire.Response's JSON shape a
// fixture needs to populate.
type part struct {
	Title    string            `json:"title,omitempty"`
	URL      string            `json:"url,omitempty"`
	Body     map[string]string `json:"body,omitempty"`
	Head     *block            `json:"head,omitempty"`
	Foot     *block            `json:"foot,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
}

type block struct {
	CSS     string   `json:"css,omitempty"`
	Scripts []string `json:"scripts,omitempty"`
}

func main() {
	addr := os.Getenv("SPF_FIXTURE_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/fixtures")
	v1.GET("/health", handleHealth())
	v1.GET("/single", handleSingle())
	v1.GET("/chunked", handleChunked())
	v1.GET("/redirect", handleRedirect())
	v1.GET("/readability", handleReadability())

	if err := r.Run(addr); err != nil {
		fmt.Fprintln(os.Stderr, "fixture server:", err)
		os.Exit(1)
	}
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleSingle serves a single-part response: a title update and one
// body fragment, the minimal shape any navigate/load exercises.
func handleSingle() gin.HandlerFunc {
	return func(c *gin.Context) {
		writePart(c, part{
			Title: "Fixture Page",
			URL:   c.Request.URL.String(),
			Body:  map[string]string{"main": `<div id="main"><h1>Hello from the fixture server</h1></div>`},
		})
	}
}

// handleChunked streams a head block, a body fragment, and a foot
// block as three separate parts separated by the wire delimiter, with
// a short delay between writes so a client can observe progressive
// apply.
func handleChunked() gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := []part{
			{Title: "Chunked Fixture", Head: &block{CSS: "body{color:#222}"}},
			{Body: map[string]string{"main": "<p>first chunk</p>"}},
			{Body: map[string]string{"main": "<p>second chunk</p>"}, Foot: &block{}},
		}

		c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
		c.Writer.WriteHeader(http.StatusOK)
		flusher, canFlush := c.Writer.(http.Flusher)

		for i, p := range parts {
			if i > 0 {
				c.Writer.Write([]byte(wire.DefaultDelimiter))
			}
			raw, err := json.Marshal(p)
			if err != nil {
				return
			}
			c.Writer.Write(raw)
			if canFlush {
				flusher.Flush()
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// handleRedirect serves a redirect-only response, exercising the
// applier's redirect handoff before any other step runs.
func handleRedirect() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Query("to")
		if target == "" {
			target = "/fixtures/single"
		}
		writePart(c, part{Redirect: target})
	}
}

// handleReadability fetches the page at ?url=, runs go-readability
// over it, and wraps the extracted article as a single-part SPF
// response, so the framework can navigate to arbitrary third-party
// pages through this fixture server.
func handleReadability() gin.HandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(c *gin.Context) {
		target := c.Query("url")
		if target == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
			return
		}
		parsedURL, err := url.Parse(target)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := client.Get(target)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		defer resp.Body.Close()

		article, err := readability.FromReader(resp.Body, parsedURL)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		writePart(c, part{
			Title: article.Title,
			URL:   target,
			Body:  map[string]string{"main": article.Content},
		})
	}
}

func writePart(c *gin.Context, p part) {
	raw, err := json.Marshal(p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", raw)
}
