package presence

import (
	"sort"
	"sync"
)

// BlockList drops chat messages from unwanted peer ids. Blocked peers
// still appear in the directory.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

func NewBlockList() *BlockList {
	return &BlockList{blocked: make(map[string]struct{})}
}

func (b *BlockList) Add(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[id] = struct{}{}
}

func (b *BlockList) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blocked, id)
}

func (b *BlockList) Blocks(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[id]
	return ok
}

func (b *BlockList) List() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.blocked))
	for key := range b.blocked {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
