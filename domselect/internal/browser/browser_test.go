package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCapture_Disabled(t *testing.T) {
	c := New(Config{})
	if c.Enabled() {
		t.Fatal("zero config should be disabled")
	}
	if _, err := c.Capture(context.Background(), "https://example.com"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	var nilCapturer *Capturer
	if nilCapturer.Enabled() {
		t.Fatal("nil capturer reports enabled")
	}
	if err := nilCapturer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCapture_EmptyURL(t *testing.T) {
	c := New(Config{Enabled: true})
	if _, err := c.Capture(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestCapture_Closed(t *testing.T) {
	c := New(Config{Enabled: true})
	c.Close()
	c.Close()
	if _, err := c.Capture(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestConfigDefaults(t *testing.T) {
	c := New(Config{Enabled: true})
	if c.cfg.Stealth == nil || !*c.cfg.Stealth {
		t.Error("stealth should default on")
	}
	if c.cfg.NavigateTimeout != 30*time.Second {
		t.Errorf("timeout = %v", c.cfg.NavigateTimeout)
	}
	if len(c.cfg.Block) == 0 || c.cfg.Logger == nil {
		t.Errorf("defaults not applied: %+v", c.cfg)
	}

	off := false
	c = New(Config{Stealth: &off, Block: []string{}})
	if *c.cfg.Stealth || len(c.cfg.Block) != 0 {
		t.Error("explicit settings overridden")
	}
}

func TestShouldBlock(t *testing.T) {
	block := map[string]bool{"images": true, "fonts": true, "xhr": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"Stylesheet": false,
		"XHR":        true,
		"Document":   false,
	}
	for typ, want := range cases {
		if got := shouldBlock(block, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestCheckURL(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		url          string
		allowPrivate bool
		want         error
	}{
		{"file:///etc/passwd", false, ErrUnsafeScheme},
		{"javascript:alert(1)", true, ErrUnsafeScheme},
		{"http://127.0.0.1:8080/", false, ErrPrivateAddress},
		{"http://[::1]/", false, ErrPrivateAddress},
		{"http://10.1.2.3/admin", false, ErrPrivateAddress},
		{"http://192.168.0.10/", false, ErrPrivateAddress},
		{"http://169.254.169.254/latest/meta-data", false, ErrPrivateAddress},
		{"http://localhost:3000/", false, ErrPrivateAddress},
		{"http://127.0.0.1:8080/", true, nil},
		{"https://93.184.216.34/", false, nil},
	}
	for _, tc := range cases {
		if err := CheckURL(ctx, tc.url, tc.allowPrivate); !errors.Is(err, tc.want) {
			t.Errorf("CheckURL(%q, %v) = %v, want %v", tc.url, tc.allowPrivate, err, tc.want)
		}
	}
	if err := CheckURL(ctx, "https:///path", false); err == nil {
		t.Error("url without host accepted")
	}
}

func TestCapture_RejectsPrivateTarget(t *testing.T) {
	c := New(Config{Enabled: true})
	defer c.Close()
	if _, err := c.Capture(context.Background(), "http://127.0.0.1/"); !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("err = %v, want ErrPrivateAddress", err)
	}
}
