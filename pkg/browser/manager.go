// Package browser adapts a Chrome instance driven by rod to verify.Page.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"dev/bravebird/uiverify/pkg/verify"
)

// Config configures the browser manager.
type Config struct {
	// ChromeBin overrides the browser binary (CHROME_BIN in Docker).
	ChromeBin string

	// ControlURL is the DevTools WebSocket URL of a running browser.
	// Empty launches a local one.
	ControlURL string

	Headless  bool
	NoSandbox bool

	// Stealth hides the usual automation fingerprints on every page.
	Stealth bool

	Logger *slog.Logger
}

// Manager owns one browser process and hands out isolated pages from it.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewManager creates a manager. Call Start before opening pages.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg}
}

// Start launches (or connects to) the browser. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}

	wsURL := m.cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().Context(ctx)
		if m.cfg.ChromeBin != "" {
			l = l.Bin(m.cfg.ChromeBin)
		}
		l = l.Headless(m.cfg.Headless)
		if m.cfg.NoSandbox {
			l = l.Set("no-sandbox")
		}
		l = l.Set("disable-gpu")
		l = l.Set("disable-dev-shm-usage")

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("%w: failed to launch browser: %v", verify.ErrTargetUnreachable, err)
		}
		wsURL = u
		m.lnch = l
		m.cfg.Logger.Info("Browser launched", "url", wsURL, "headless", m.cfg.Headless)
	} else {
		m.cfg.Logger.Info("Connecting to browser", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return fmt.Errorf("%w: failed to connect to browser: %v", verify.ErrTargetUnreachable, err)
	}
	m.browser = b
	return nil
}

// NewPage opens a page in its own incognito context so cookies and storage
// never leak between scenarios. release closes the context.
func (m *Manager) NewPage(ctx context.Context) (verify.Page, func(), error) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()
	if b == nil {
		return nil, nil, fmt.Errorf("%w: browser not started", verify.ErrTargetUnreachable)
	}

	incognito, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create browser context: %v", verify.ErrTargetUnreachable, err)
	}

	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		incognito.Close()
		return nil, nil, fmt.Errorf("%w: failed to create page: %v", verify.ErrTargetUnreachable, err)
	}

	release := func() {
		if err := page.Close(); err != nil {
			m.cfg.Logger.Debug("Failed to close page", "error", err)
		}
		if err := incognito.Close(); err != nil {
			m.cfg.Logger.Debug("Failed to close browser context", "error", err)
		}
	}
	return &Page{page: page}, release, nil
}

// Factory returns a verify.PageFactory backed by NewPage
func (m *Manager) Factory() verify.PageFactory {
	return m.NewPage
}

// Close shuts the browser down
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

func (m *Manager) cleanupLocked() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}
