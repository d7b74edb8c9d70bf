package decision

import (
	"sync"
	"time"
)

// CooldownManager rate-limits actions per (key, action), e.g. per guild or per user
type CooldownManager struct {
	mu        sync.RWMutex
	cooldowns map[string]map[string]time.Time
	duration  time.Duration
	now       func() time.Time
}

func NewCooldownManager(duration time.Duration) *CooldownManager {
	return &CooldownManager{
		cooldowns: make(map[string]map[string]time.Time),
		duration:  duration,
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests
func (cm *CooldownManager) WithClock(now func() time.Time) *CooldownManager {
	cm.now = now
	return cm
}

// SetDuration changes the cooldown for existing and future entries
func (cm *CooldownManager) SetDuration(d time.Duration) {
	cm.mu.Lock()
	cm.duration = d
	cm.mu.Unlock()
}

func (cm *CooldownManager) CanExecute(key, action string) bool {
	return cm.GetRemainingCooldown(key, action) == 0
}

func (cm *CooldownManager) RecordExecution(key, action string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.recordLocked(key, action)
}

func (cm *CooldownManager) recordLocked(key, action string) {
	if _, exists := cm.cooldowns[key]; !exists {
		cm.cooldowns[key] = make(map[string]time.Time)
	}
	cm.cooldowns[key][action] = cm.now()
}

// TryAcquire records an execution if none is cooling down and reports the wait otherwise
func (cm *CooldownManager) TryAcquire(key, action string) (bool, time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if remaining := cm.remainingLocked(key, action); remaining > 0 {
		return false, remaining
	}
	cm.recordLocked(key, action)
	return true, 0
}

func (cm *CooldownManager) Reset(key string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.cooldowns, key)
}

func (cm *CooldownManager) GetRemainingCooldown(key, action string) time.Duration {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.remainingLocked(key, action)
}

func (cm *CooldownManager) remainingLocked(key, action string) time.Duration {
	keyCooldowns, exists := cm.cooldowns[key]
	if !exists {
		return 0
	}

	lastExecution, exists := keyCooldowns[action]
	if !exists {
		return 0
	}

	remaining := cm.duration - cm.now().Sub(lastExecution)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Prune drops entries whose cooldown has elapsed
func (cm *CooldownManager) Prune() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	pruned := 0
	now := cm.now()
	for key, actions := range cm.cooldowns {
		for action, at := range actions {
			if now.Sub(at) >= cm.duration {
				delete(actions, action)
				pruned++
			}
		}
		if len(actions) == 0 {
			delete(cm.cooldowns, key)
		}
	}
	return pruned
}
