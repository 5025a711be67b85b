// Package state holds the process-wide data the SOCKS5 core reads and
// the management core mutates: the user table, metrics, the access log
// ring, and the runtime copy chunk cap (spec.md §3, module 8). All of
// it is consulted from session goroutines, so every exported method is
// safe for concurrent use: the user table and access log each take
// their own mutex, and metrics and the chunk cap use atomic operations.
// This replaces the spec's "single event-loop thread, no locking"
// invariant in the goroutine-per-session translation.
package state

import (
	"fmt"
	"sync"
)

// ErrUserExists is returned by Add when the username already has an
// active row.
var ErrUserExists = fmt.Errorf("state: user already exists")

// ErrUserNotFound is returned by Deactivate when no active row matches.
var ErrUserNotFound = fmt.Errorf("state: user not found")

type userRow struct {
	username string
	password string
	active   bool
}

// Users is the bounded, ordered user table. Capacity is fixed at
// construction; a tombstoned (inactive) row's slot is reused before the
// table grows, exactly as spec.md §3 requires.
type Users struct {
	mu       sync.Mutex
	capacity int
	rows     []userRow
}

// NewUsers constructs an empty table with the given capacity.
func NewUsers(capacity int) *Users {
	if capacity <= 0 {
		panic("state: user table capacity must be positive")
	}
	return &Users{capacity: capacity}
}

// Seed installs the initial administrator row parsed from the ADMIN
// environment variable (spec.md §6). It is a plain Add, with the same
// duplicate and capacity checks.
func (u *Users) Seed(username, password string) error {
	return u.Add(username, password)
}

// Add inserts a new active row, reusing a tombstoned slot if one
// exists, otherwise appending if under capacity.
func (u *Users) Add(username, password string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, r := range u.rows {
		if r.active && r.username == username {
			return ErrUserExists
		}
	}
	for i, r := range u.rows {
		if !r.active {
			u.rows[i] = userRow{username: username, password: password, active: true}
			return nil
		}
	}
	if len(u.rows) >= u.capacity {
		return fmt.Errorf("state: user table full (capacity %d)", u.capacity)
	}
	u.rows = append(u.rows, userRow{username: username, password: password, active: true})
	return nil
}

// Deactivate tombstones the active row for username, freeing its slot
// for reuse.
func (u *Users) Deactivate(username string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i, r := range u.rows {
		if r.active && r.username == username {
			u.rows[i] = userRow{}
			return nil
		}
	}
	return ErrUserNotFound
}

// Authenticate reports whether username/password match an active row.
func (u *Users) Authenticate(username, password string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, r := range u.rows {
		if r.active && r.username == username && r.password == password {
			return true
		}
	}
	return false
}

// List returns active usernames in table order.
func (u *Users) List() []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]string, 0, len(u.rows))
	for _, r := range u.rows {
		if r.active {
			out = append(out, r.username)
		}
	}
	return out
}
