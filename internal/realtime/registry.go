package realtime

import (
	"strings"
	"sync"
)

// Member is anything the hub can push a frame to.
type Member interface {
	ID() string
	Enqueue(frame []byte) bool
}

// GroupRegistry tracks which members belong to which groups. Groups are
// ephemeral and rebuilt whenever a client joins.
type GroupRegistry interface {
	Add(group string, m Member)
	Remove(group, memberID string) bool
	// RemoveMember drops memberID from every group and returns those groups.
	RemoveMember(memberID string) []string
	// Range calls fn for a snapshot of the group's members taken under the
	// group lock. fn runs without any registry lock held.
	Range(group string, fn func(Member))
	Len(group string) int
	Groups() int
}

type MemoryRegistry struct {
	mu     sync.RWMutex
	groups map[string]*group

	idxMu  sync.Mutex
	byConn map[string]map[string]struct{}
}

type group struct {
	mu      sync.Mutex
	members map[string]Member
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		groups: make(map[string]*group),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Add(name string, m Member) {
	name = strings.TrimSpace(name)
	if name == "" || m == nil {
		return
	}

	for {
		g := r.ensureGroup(name)
		g.mu.Lock()
		// a concurrent Remove may have retired this group
		if g.members == nil {
			g.mu.Unlock()
			continue
		}
		g.members[m.ID()] = m
		g.mu.Unlock()
		break
	}

	r.idxMu.Lock()
	set := r.byConn[m.ID()]
	if set == nil {
		set = make(map[string]struct{})
		r.byConn[m.ID()] = set
	}
	set[name] = struct{}{}
	r.idxMu.Unlock()
}

func (r *MemoryRegistry) Remove(name, memberID string) bool {
	name = strings.TrimSpace(name)
	removed := r.removeFromGroup(name, memberID)

	r.idxMu.Lock()
	if set := r.byConn[memberID]; set != nil {
		delete(set, name)
		if len(set) == 0 {
			delete(r.byConn, memberID)
		}
	}
	r.idxMu.Unlock()
	return removed
}

func (r *MemoryRegistry) RemoveMember(memberID string) []string {
	r.idxMu.Lock()
	set := r.byConn[memberID]
	delete(r.byConn, memberID)
	r.idxMu.Unlock()

	names := make([]string, 0, len(set))
	for name := range set {
		if r.removeFromGroup(name, memberID) {
			names = append(names, name)
		}
	}
	return names
}

func (r *MemoryRegistry) Range(name string, fn func(Member)) {
	r.mu.RLock()
	g := r.groups[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if g == nil {
		return
	}

	g.mu.Lock()
	members := make([]Member, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, m)
	}
	g.mu.Unlock()

	for _, m := range members {
		fn(m)
	}
}

func (r *MemoryRegistry) Len(name string) int {
	r.mu.RLock()
	g := r.groups[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

func (r *MemoryRegistry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

func (r *MemoryRegistry) ensureGroup(name string) *group {
	r.mu.RLock()
	current := r.groups[name]
	r.mu.RUnlock()
	if current != nil {
		return current
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current = r.groups[name]
	if current == nil {
		current = &group{members: make(map[string]Member)}
		r.groups[name] = current
	}
	return current
}

func (r *MemoryRegistry) removeFromGroup(name, memberID string) bool {
	r.mu.RLock()
	g := r.groups[name]
	r.mu.RUnlock()
	if g == nil {
		return false
	}

	g.mu.Lock()
	_, ok := g.members[memberID]
	delete(g.members, memberID)
	remaining := len(g.members)
	g.mu.Unlock()
	if remaining != 0 {
		return ok
	}

	r.mu.Lock()
	if r.groups[name] == g {
		g.mu.Lock()
		if len(g.members) == 0 {
			g.members = nil
			delete(r.groups, name)
		}
		g.mu.Unlock()
	}
	r.mu.Unlock()
	return ok
}
