package settings

import (
	"sync"

	"github.com/castkit/mediacache/internal/policy"
)

// Store gives synchronous access to the user's data-usage preferences. The
// orchestrator only ever reads a snapshot; it never mutates preferences.
type Store interface {
	Snapshot() policy.UserDataPolicy
	Update(policy.UserDataPolicy) error
}

// Memory is a mutex-guarded in-process Store.
type Memory struct {
	mu     sync.RWMutex
	policy policy.UserDataPolicy
}

func NewMemory(initial policy.UserDataPolicy) *Memory {
	return &Memory{policy: initial}
}

func (m *Memory) Snapshot() policy.UserDataPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.policy
}

func (m *Memory) Update(p policy.UserDataPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.policy = p

	return nil
}
