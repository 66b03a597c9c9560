// CLAUDE:SUMMARY Live page capture for snapshot history: lazily launches (or connects to) Chrome via Rod, opens a stealth tab, returns document outerHTML.
// Package browser captures the rendered DOM of a live page. It is the
// only part of domselect that talks to a browser, and it is optional: the
// engine works on HTML handed to it by the caller.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrDisabled is returned by Capture when no browser is configured.
var ErrDisabled = errors.New("browser: capture disabled")

// Config configures a Capturer.
type Config struct {
	// Enabled turns live capture on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local headless Chrome.
	RemoteURL string `yaml:"remote_url" json:"remote_url,omitempty"`

	// Stealth applies go-rod/stealth evasions to every tab. Default true.
	Stealth *bool `yaml:"stealth" json:"stealth,omitempty"`

	// Block lists resource types not worth loading for a DOM capture
	// (images, fonts, media, stylesheets).
	Block []string `yaml:"block" json:"block,omitempty"`

	// NavigateTimeout bounds navigation plus load. Default 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout" json:"navigate_timeout,omitempty"`

	// AllowPrivate permits capturing loopback and private network hosts.
	AllowPrivate bool `yaml:"allow_private" json:"allow_private,omitempty"`

	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.Stealth == nil {
		on := true
		c.Stealth = &on
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Block == nil {
		c.Block = []string{"images", "fonts", "media"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Capturer owns one browser connection, started on first use.
type Capturer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New returns a Capturer. Nothing is launched until Capture.
func New(cfg Config) *Capturer {
	cfg.defaults()
	return &Capturer{cfg: cfg}
}

// Enabled reports whether Capture can succeed at all.
func (c *Capturer) Enabled() bool { return c != nil && c.cfg.Enabled }

// Capture navigates to pageURL and returns the document's outerHTML.
func (c *Capturer) Capture(ctx context.Context, pageURL string) ([]byte, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if pageURL == "" {
		return nil, fmt.Errorf("browser: empty url")
	}
	if err := CheckURL(ctx, pageURL, c.cfg.AllowPrivate); err != nil {
		return nil, err
	}
	b, err := c.connect()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if *c.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if len(c.cfg.Block) > 0 {
		router := blockResources(page, c.cfg.Block)
		defer router.Stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		c.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

func (c *Capturer) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("browser: capturer is closed")
	}
	if c.browser != nil {
		return c.browser, nil
	}

	log := c.cfg.Logger
	wsURL := c.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true).Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		c.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	} else {
		log.Info("browser: connecting to remote", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		c.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	c.browser = b
	return b, nil
}

// Close shuts the browser down. Safe to call more than once.
func (c *Capturer) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cleanup()
	return nil
}

func (c *Capturer) cleanup() {
	if c.browser != nil {
		c.browser.Close()
		c.browser = nil
	}
	if c.lnch != nil {
		c.lnch.Cleanup()
		c.lnch = nil
	}
}

func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func shouldBlock(block map[string]bool, resType string) bool {
	switch t := strings.ToLower(resType); t {
	case "image":
		return block["images"]
	case "font":
		return block["fonts"]
	case "stylesheet":
		return block["stylesheets"]
	default:
		return block[t]
	}
}
