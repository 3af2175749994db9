// Package browser owns the persistent Chromium session and adapts it to the
// capability interfaces the purchase flow consumes. The session reuses a real
// user profile directory so the retail site sees a logged-in account with a
// saved address and payment method.
package browser

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"dealbot/flow"
)

const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Manager owns the Playwright runtime and the single persistent browser
// context. One product page is lent out at a time.
type Manager struct {
	profileDir   string
	artifactsDir string
	headless     bool

	mu      sync.Mutex
	pwRun   *pw.Playwright
	browser pw.BrowserContext
	tracing bool
}

// NewManager prepares a manager; the browser launches on Start.
func NewManager(profileDir, artifactsDir string, headless bool) *Manager {
	return &Manager{
		profileDir:   profileDir,
		artifactsDir: artifactsDir,
		headless:     headless,
	}
}

// Start launches Chromium with the persistent profile.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return nil
	}

	if err := os.MkdirAll(m.artifactsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts dir: %w", err)
	}

	run, err := pw.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := run.Chromium.LaunchPersistentContext(m.profileDir, pw.BrowserTypeLaunchPersistentContextOptions{
		Headless: pw.Bool(m.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--no-sandbox",
			"--disable-dev-shm-usage",
		},
	})
	if err != nil {
		run.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	if err := browser.AddInitScript(pw.Script{Content: pw.String(stealthScript)}); err != nil {
		log.Printf("⚠️ [Browser] init script failed (non-fatal): %v", err)
	}

	m.pwRun = run
	m.browser = browser
	log.Printf("🌐 [Browser] launched (headless=%v, profile=%s)", m.headless, m.profileDir)
	return nil
}

// Stop closes the browser and the Playwright runtime.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.pwRun != nil {
		m.pwRun.Stop()
		m.pwRun = nil
	}
	log.Printf("🌐 [Browser] stopped")
}

// AcquireProductPage opens a fresh page for one purchase attempt.
func (m *Manager) AcquireProductPage() (flow.Page, flow.Diagnostics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return nil, nil, fmt.Errorf("browser not started")
	}
	page, err := m.browser.NewPage()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}
	p := &pwPage{page: page, mgr: m}
	return p, p, nil
}

// ReleaseProductPage closes a page previously lent out by AcquireProductPage.
func (m *Manager) ReleaseProductPage(page flow.Page) {
	if p, ok := page.(*pwPage); ok {
		if err := p.page.Close(); err != nil {
			log.Printf("⚠️ [Browser] page close failed: %v", err)
		}
	}
}

func (m *Manager) startTrace() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil || m.tracing {
		return
	}
	err := m.browser.Tracing().Start(pw.TracingStartOptions{
		Screenshots: pw.Bool(true),
		Snapshots:   pw.Bool(true),
	})
	if err != nil {
		log.Printf("⚠️ [Browser] trace start failed: %v", err)
		return
	}
	m.tracing = true
}

func (m *Manager) stopTrace(tag string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil || !m.tracing {
		return ""
	}
	m.tracing = false
	path := filepath.Join(m.artifactsDir, fmt.Sprintf("trace-%s-%d.zip", tag, time.Now().UnixMilli()))
	if err := m.browser.Tracing().Stop(path); err != nil {
		log.Printf("⚠️ [Browser] trace stop failed: %v", err)
		return ""
	}
	return path
}

// pwPage adapts a Playwright page to flow.Page and flow.Diagnostics.
type pwPage struct {
	page pw.Page
	mgr  *Manager
}

func (p *pwPage) Navigate(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Locator(selector string) flow.Element {
	return &pwElement{loc: p.page.Locator(selector)}
}

func (p *pwPage) Screenshot(tag string) string {
	path := filepath.Join(p.mgr.artifactsDir, fmt.Sprintf("shot-%s-%d.png", tag, time.Now().UnixMilli()))
	_, err := p.page.Screenshot(pw.PageScreenshotOptions{
		Path:     pw.String(path),
		FullPage: pw.Bool(true),
	})
	if err != nil {
		log.Printf("⚠️ [Browser] screenshot failed: %v", err)
		return ""
	}
	return path
}

func (p *pwPage) StartTrace()                 { p.mgr.startTrace() }
func (p *pwPage) StopTrace(tag string) string { return p.mgr.stopTrace(tag) }

// pwElement adapts a Playwright locator to flow.Element.
type pwElement struct {
	loc pw.Locator
}

func (e *pwElement) Visible(timeout time.Duration) bool {
	err := e.loc.First().WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: pw.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (e *pwElement) Click(timeout time.Duration) error {
	return e.loc.First().Click(pw.LocatorClickOptions{
		Timeout: pw.Float(float64(timeout.Milliseconds())),
	})
}

func (e *pwElement) Text(timeout time.Duration) (string, error) {
	return e.loc.First().TextContent(pw.LocatorTextContentOptions{
		Timeout: pw.Float(float64(timeout.Milliseconds())),
	})
}

func (e *pwElement) Attribute(name string) (string, bool) {
	val, err := e.loc.First().GetAttribute(name)
	if err != nil {
		return "", false
	}
	return val, true
}

func (e *pwElement) Locator(selector string) flow.Element {
	return &pwElement{loc: e.loc.Locator(selector)}
}

func (e *pwElement) Count() int {
	n, err := e.loc.Count()
	if err != nil {
		return 0
	}
	return n
}

func (e *pwElement) Nth(i int) flow.Element {
	return &pwElement{loc: e.loc.Nth(i)}
}
