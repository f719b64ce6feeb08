package session

import "time"

// Event registration. Handlers run synchronously on the goroutine that
// triggered the transition, after the manager has released its lock.

func (m *Manager) OnAuthenticationChanged(fn func(authenticated bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthChanged = append(m.onAuthChanged, fn)
}

func (m *Manager) OnAuthenticationFailed(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthFailed = append(m.onAuthFailed, fn)
}

func (m *Manager) OnLoggedOut(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLoggedOut = append(m.onLoggedOut, fn)
}

// OnSessionExpiring fires once per installed token when the pre-expiry
// warning window opens, with the time remaining until expiry.
func (m *Manager) OnSessionExpiring(fn func(timeLeft time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpiring = append(m.onExpiring, fn)
}

func (m *Manager) emitAuthChanged(authenticated bool) {
	m.mu.Lock()
	handlers := append([]func(bool){}, m.onAuthChanged...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(authenticated)
	}
}

func (m *Manager) emitAuthFailed() {
	m.mu.Lock()
	handlers := append([]func(){}, m.onAuthFailed...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (m *Manager) emitLoggedOut() {
	m.mu.Lock()
	handlers := append([]func(){}, m.onLoggedOut...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (m *Manager) emitExpiring(timeLeft time.Duration) {
	m.mu.Lock()
	handlers := append([]func(time.Duration){}, m.onExpiring...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn(timeLeft)
	}
}
