package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
)

// RodOptions configures a local headless browser backend.
type RodOptions struct {
	// ControlURL attaches to an already running Chrome. Empty launches one.
	ControlURL        string
	Headless          bool
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	// IdleTTL closes sessions that have not been used for this long.
	IdleTTL time.Duration
}

// DefaultRodOptions mirrors the remote backend's defaults.
func DefaultRodOptions() RodOptions {
	return RodOptions{
		Headless:          true,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		NavigationTimeout: 30 * time.Second,
		IdleTTL:           5 * time.Minute,
	}
}

type rodSession struct {
	page       *rod.Page
	close      func() error
	lastActive time.Time
}

// RodBackend drives local Chrome pages through the DevTools protocol.
type RodBackend struct {
	opts   RodOptions
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	browser  *rod.Browser
	sessions map[string]*rodSession
}

var _ Backend = (*RodBackend)(nil)

// NewRodBackend creates a backend. The browser is started lazily on the first session.
func NewRodBackend(opts RodOptions, logger *zap.Logger) *RodBackend {
	def := DefaultRodOptions()
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = def.ViewportWidth
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = def.ViewportHeight
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = def.IdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodBackend{
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*rodSession),
	}
}

func (b *RodBackend) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(b.opts.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = browser
	return browser, nil
}

// Start opens an isolated incognito page on url.
func (b *RodBackend) Start(ctx context.Context, url string) (string, error) {
	browser, err := b.ensureBrowser(ctx)
	if err != nil {
		return "", err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return "", fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return "", fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		b.logger.Warn("failed to set viewport", zap.Error(err))
	}

	if err := page.Timeout(b.opts.NavigationTimeout).Navigate(url); err != nil {
		_ = incognito.Close()
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	_ = page.Timeout(b.opts.NavigationTimeout).WaitLoad()

	id := uuid.NewString()
	b.mu.Lock()
	b.sessions[id] = &rodSession{page: page, close: incognito.Close, lastActive: b.now()}
	b.mu.Unlock()
	b.logger.Info("session started", zap.String("session_id", id), zap.String("url", url))
	return id, nil
}

func (b *RodBackend) page(sessionID string) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	s.lastActive = b.now()
	return s.page, nil
}

// Screenshot captures the viewport as PNG.
func (b *RodBackend) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	page, err := b.page(sessionID)
	if err != nil {
		return nil, err
	}
	img, err := page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("screenshot: %w", ErrRenderTimeout)
		}
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return img, nil
}

// Click moves the mouse to (x, y) and presses the left button once.
func (b *RodBackend) Click(ctx context.Context, sessionID string, x, y int) error {
	page, err := b.page(sessionID)
	if err != nil {
		return err
	}
	p := page.Context(ctx)
	if err := p.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return fmt.Errorf("click: move: %w", err)
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// ExtractContext evaluates the context script in the page.
func (b *RodBackend) ExtractContext(ctx context.Context, sessionID string) (*domain.SemanticContext, error) {
	page, err := b.page(sessionID)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      contextScript,
		ByValue: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract context: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("extract context: %w", err)
	}
	var wc wireContext
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, fmt.Errorf("extract context: decode: %w", err)
	}
	return &domain.SemanticContext{
		DOMTree:           wc.DOMTree,
		AccessibilityTree: wc.AccessibilityTree,
		PageMetadata:      wc.PageMetadata,
		ExtractedAt:       b.now().UTC(),
	}, nil
}

// Close disposes the session's browser context.
func (b *RodBackend) Close(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	delete(b.sessions, sessionID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return s.close()
}

// RunReaper closes idle sessions until ctx is done.
func (b *RodBackend) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.reap()
		}
	}
}

// reap closes sessions idle for longer than the TTL and returns how many it closed.
func (b *RodBackend) reap() int {
	cutoff := b.now().Add(-b.opts.IdleTTL)
	var stale []*rodSession
	b.mu.Lock()
	for id, s := range b.sessions {
		if s.lastActive.Before(cutoff) {
			stale = append(stale, s)
			delete(b.sessions, id)
			b.logger.Info("closing idle session", zap.String("session_id", id))
		}
	}
	b.mu.Unlock()

	for _, s := range stale {
		if err := s.close(); err != nil {
			b.logger.Warn("failed to close idle session", zap.Error(err))
		}
	}
	return len(stale)
}

// Shutdown closes every session and the browser.
func (b *RodBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		_ = s.close()
		delete(b.sessions, id)
	}
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

// contextScript collects a bounded DOM tree, an accessibility tree and page metadata.
const contextScript = `() => {
	const LANDMARKS = ['header', 'footer', 'nav', 'main', 'article', 'section', 'aside'];
	const STRUCTURAL = ['html', 'head', 'body'].concat(LANDMARKS);
	const FOCUSABLE = ['a', 'button', 'input', 'select', 'textarea'];

	const box = (el) => {
		const r = el.getBoundingClientRect();
		return { x: Math.round(r.x), y: Math.round(r.y), width: Math.round(r.width), height: Math.round(r.height) };
	};
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.display !== 'none' && s.visibility !== 'hidden';
	};

	const dom = (el, depth) => {
		if (depth >= 5) return null;
		const tag = el.tagName.toLowerCase();
		if (!visible(el) && !STRUCTURAL.includes(tag)) return null;
		return {
			tag: tag,
			id: el.id || null,
			classes: Array.from(el.classList),
			text: (el.textContent || '').trim().substring(0, 200) || null,
			position: box(el),
			children: Array.from(el.children).map((c) => dom(c, depth + 1)).filter((c) => c !== null),
		};
	};

	const a11y = (el, depth) => {
		if (depth >= 5 || !visible(el)) return null;
		const tag = el.tagName.toLowerCase();
		const label = el.getAttribute('aria-label');
		const labelledBy = el.getAttribute('aria-labelledby');
		let name = label;
		if (!name && labelledBy) {
			const ref = document.getElementById(labelledBy);
			name = ref && ref.textContent ? ref.textContent.trim() : null;
		}
		if (!name && el.textContent) name = el.textContent.trim().substring(0, 100);
		return {
			role: el.getAttribute('role') || tag,
			isLandmark: LANDMARKS.includes(tag),
			accessibleName: name || null,
			ariaHidden: el.getAttribute('aria-hidden') === 'true',
			ariaExpanded: el.getAttribute('aria-expanded'),
			altText: tag === 'img' ? el.getAttribute('alt') : null,
			isFocusable: el.tabIndex >= 0 || FOCUSABLE.includes(tag),
			position: box(el),
			children: Array.from(el.children).map((c) => a11y(c, depth + 1)).filter((c) => c !== null),
		};
	};

	const meta = (name) => {
		const m = document.querySelector('meta[name="' + name + '"]');
		return m ? m.content : null;
	};
	const canonical = document.querySelector('link[rel="canonical"]');

	return {
		dom_tree: dom(document.documentElement, 0),
		accessibility_tree: a11y(document.documentElement, 0),
		page_metadata: {
			title: document.title,
			url: window.location.href,
			viewport: { width: window.innerWidth, height: window.innerHeight },
			language: document.documentElement.lang || null,
			metaDescription: meta('description'),
			canonicalUrl: canonical ? canonical.href : null,
		},
	};
}`
