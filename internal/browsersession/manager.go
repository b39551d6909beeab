package browsersession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a session may sit unused before the
// manager tears it down to reclaim resources.
const DefaultIdleTimeout = 5 * time.Minute

// Manager owns at most one live Session for a single worker. It is not safe
// for concurrent use by more than one worker goroutine, matching the
// worker's single-threaded-with-respect-to-browser-operations contract.
type Manager struct {
	mu sync.Mutex

	open       OpenFunc
	close      CloseFunc
	screenshot ScreenshotFunc
	logger     *slog.Logger

	idleTimeout time.Duration
	session     *Session
	idleTimer   *time.Timer
}

// NewManager returns a Manager that uses open/close to create and tear down
// driver sessions and screenshot to capture failure diagnostics.
func NewManager(open OpenFunc, closeFn CloseFunc, screenshot ScreenshotFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		open:        open,
		close:       closeFn,
		screenshot:  screenshot,
		logger:      logger,
		idleTimeout: DefaultIdleTimeout,
	}
}

// SetIdleTimeout overrides DefaultIdleTimeout.
func (m *Manager) SetIdleTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = d
}

// Acquire returns the current session, lazily opening one if none is live,
// and resets the idle timer.
func (m *Manager) Acquire(ctx context.Context, credentialID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		handle, err := m.open(ctx)
		if err != nil {
			return nil, fmt.Errorf("browsersession: open: %w", err)
		}
		m.session = &Session{Handle: handle, CredentialID: credentialID}
		m.logger.Info("browser session opened", "credential_id", credentialID)
	}
	m.resetIdleTimerLocked()
	return m.session, nil
}

// Touch resets the idle timer without acquiring a session; called after
// every claim attempt, successful or not, so an active worker's session
// never expires mid-poll.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.resetIdleTimerLocked()
	}
}

func (m *Manager) resetIdleTimerLocked() {
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	timeout := m.idleTimeout
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	m.idleTimer = time.AfterFunc(timeout, func() {
		m.closeIdle()
	})
}

func (m *Manager) closeIdle() {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()

	if session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.close(ctx, session.Handle); err != nil {
		m.logger.Warn("browser session idle teardown failed", "error", err)
		return
	}
	m.logger.Info("browser session closed after idle timeout")
}

// CloseOnFailure captures a screenshot (best effort) and tears down the
// current session unconditionally, so a successor job must re-login. Used
// on any terminal failure path.
func (m *Manager) CloseOnFailure(ctx context.Context) (screenshot []byte) {
	m.mu.Lock()
	session := m.session
	m.session = nil
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.mu.Unlock()

	if session == nil {
		return nil
	}

	if m.screenshot != nil {
		shot, err := m.screenshot(ctx, session.Handle)
		if err != nil {
			m.logger.Warn("screenshot capture failed", "error", err)
		} else {
			screenshot = shot
		}
	}

	if err := m.close(ctx, session.Handle); err != nil {
		m.logger.Warn("browser session teardown after failure failed", "error", err)
	}
	return screenshot
}

// Close tears down any live session unconditionally, used on worker
// shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.mu.Unlock()

	if session == nil {
		return nil
	}
	return m.close(ctx, session.Handle)
}

// Active reports whether a session is currently live, for status reporting.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}
