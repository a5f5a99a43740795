package location

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Permission describes whether sampling is currently authorised.
type Permission int

const (
	Prompt Permission = iota
	Granted
	Denied
)

func (p Permission) String() string {
	switch p {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "prompt"
	}
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Permission) UnmarshalText(b []byte) error {
	switch string(b) {
	case "prompt":
		*p = Prompt
	case "granted":
		*p = Granted
	case "denied":
		*p = Denied
	default:
		return fmt.Errorf("unknown permission state %q", b)
	}
	return nil
}

// PermissionCell is an observable state cell: every subscriber receives the
// current value immediately and then each change. Slow subscribers only ever
// see the latest value.
type PermissionCell struct {
	mu          sync.Mutex
	state       Permission
	subscribers map[string]chan Permission
}

func NewPermissionCell(initial Permission) *PermissionCell {
	return &PermissionCell{
		state:       initial,
		subscribers: make(map[string]chan Permission),
	}
}

// Get returns the current state.
func (c *PermissionCell) Get() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Set updates the state and notifies subscribers if it changed.
func (c *PermissionCell) Set(p Permission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == p {
		return
	}
	c.state = p
	for _, ch := range c.subscribers {
		offerLatest(ch, p)
	}
}

// Subscribe returns a channel primed with the current state.
func (c *PermissionCell) Subscribe() (string, <-chan Permission) {
	id := uuid.NewString()
	ch := make(chan Permission, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	ch <- c.state
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and forgets a subscriber channel.
func (c *PermissionCell) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

// offerLatest replaces any unread value so the channel never blocks the writer.
func offerLatest(ch chan Permission, p Permission) {
	select {
	case ch <- p:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}
