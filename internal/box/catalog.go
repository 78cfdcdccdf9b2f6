package box

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrBoxNotFound is returned when a box id has no catalog entry.
var ErrBoxNotFound = fmt.Errorf("box: not found in catalog")

// Catalog holds the authored boxes available for opening. Every box is
// validated on the way in, so catalog entries are always playable.
type Catalog struct {
	mu    sync.RWMutex
	boxes map[string]Box
}

func NewCatalog() *Catalog {
	return &Catalog{boxes: make(map[string]Box)}
}

// Register validates and adds a box, replacing any existing entry.
func (c *Catalog) Register(b Box) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("box %q: %w", b.ID, err)
	}
	c.mu.Lock()
	c.boxes[b.ID] = b
	c.mu.Unlock()
	return nil
}

// Get retrieves a box by id.
func (c *Catalog) Get(id string) (Box, error) {
	c.mu.RLock()
	b, ok := c.boxes[id]
	c.mu.RUnlock()
	if !ok {
		return Box{}, ErrBoxNotFound
	}
	return b, nil
}

// List returns all registered boxes in id order.
func (c *Catalog) List() []Box {
	c.mu.RLock()
	out := make([]Box, 0, len(c.boxes))
	for _, b := range c.boxes {
		out = append(out, b)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadFile reads a JSON array of boxes and registers each one.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var boxes []Box
	if err := json.Unmarshal(data, &boxes); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	for _, b := range boxes {
		if err := c.Register(b); err != nil {
			return err
		}
	}
	return nil
}
