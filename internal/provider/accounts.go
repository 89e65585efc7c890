package provider

import "sync"

// Account binds a user to their configured provider handle.
type Account struct {
	UserID   string
	Provider Provider
}

// Accounts is the per-user provider registry, populated at login or session
// restore. Injectable rather than a package global so tests can run isolated
// instances.
type Accounts struct {
	mu     sync.RWMutex
	byUser map[string]*Account
}

// NewAccounts builds an empty account registry.
func NewAccounts() *Accounts {
	return &Accounts{byUser: make(map[string]*Account)}
}

// Bind associates a provider handle with a user, replacing any prior binding.
func (a *Accounts) Bind(userID string, p Provider) {
	a.mu.Lock()
	a.byUser[userID] = &Account{UserID: userID, Provider: p}
	a.mu.Unlock()
}

// Lookup returns the user's account, if any.
func (a *Accounts) Lookup(userID string) (*Account, bool) {
	a.mu.RLock()
	acct, ok := a.byUser[userID]
	a.mu.RUnlock()
	return acct, ok
}

// Remove drops the user's binding. Removing an absent user is a no-op.
func (a *Accounts) Remove(userID string) {
	a.mu.Lock()
	delete(a.byUser, userID)
	a.mu.Unlock()
}
