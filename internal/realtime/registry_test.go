package realtime

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubMember struct {
	id     string
	mu     sync.Mutex
	frames [][]byte
}

func (m *stubMember) ID() string { return m.id }

func (m *stubMember) Enqueue(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frame)
	return true
}

func TestMemoryRegistryMembership(t *testing.T) {
	r := NewMemoryRegistry()
	a := &stubMember{id: "a"}
	b := &stubMember{id: "b"}

	r.Add("1", a)
	r.Add("1", b)
	r.Add("2", a)
	r.Add(" ", a)

	assert.Equal(t, 2, r.Len("1"))
	assert.Equal(t, 1, r.Len("2"))
	assert.Equal(t, 2, r.Groups())

	assert.True(t, r.Remove("1", "b"))
	assert.False(t, r.Remove("1", "b"))
	assert.Equal(t, 1, r.Len("1"))

	groups := r.RemoveMember("a")
	sort.Strings(groups)
	assert.Equal(t, []string{"1", "2"}, groups)
	assert.Equal(t, 0, r.Groups())
	assert.Empty(t, r.RemoveMember("a"))
}

func TestMemoryRegistryRangeSnapshots(t *testing.T) {
	r := NewMemoryRegistry()
	for i := 0; i < 3; i++ {
		r.Add("7", &stubMember{id: fmt.Sprint(i)})
	}

	visited := 0
	r.Range("7", func(m Member) {
		// mutating the group from inside Range must not deadlock
		r.Remove("7", m.ID())
		visited++
	})
	assert.Equal(t, 3, visited)
	assert.Equal(t, 0, r.Len("7"))

	r.Range("missing", func(Member) { t.Fatal("unexpected member") })
}

func TestMemoryRegistryConcurrentChurn(t *testing.T) {
	r := NewMemoryRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &stubMember{id: fmt.Sprint(i)}
			for j := 0; j < 200; j++ {
				r.Add("shared", m)
				r.Range("shared", func(Member) {})
				r.RemoveMember(m.ID())
			}
			r.Add("shared", m)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, r.Len("shared"))
	assert.Equal(t, 1, r.Groups())
}
