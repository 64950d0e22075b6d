package authclient

import "sync"

// Credentials is the token pair held for the signed-in user.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// CredentialStore persists the token pair between requests. Implementations
// must be safe for concurrent use.
type CredentialStore interface {
	Load() (Credentials, bool)
	Save(Credentials)
	Clear()
}

// MemoryStore keeps credentials for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	creds Credentials
	set   bool
}

func NewMemoryStore(initial *Credentials) *MemoryStore {
	s := &MemoryStore{}
	if initial != nil {
		s.Save(*initial)
	}
	return s
}

func (s *MemoryStore) Load() (Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds, s.set
}

func (s *MemoryStore) Save(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	s.set = c.AccessToken != "" || c.RefreshToken != ""
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = Credentials{}
	s.set = false
}
