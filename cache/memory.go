package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryConfig configures a MemoryStore
type MemoryConfig struct {
	// How often to check for expired entries; zero disables the checker
	ExpirationCheckInterval time.Duration

	// Upper bound on stored entries; zero means unbounded
	MaxEntries int
}

// MemoryStore is an in-process Store with TTL eviction
type MemoryStore struct {
	config MemoryConfig
	logger *zap.Logger

	// Map from key to entry
	entries map[string]Entry

	// Lock for concurrent access
	lock sync.RWMutex

	// Channel to signal shutdown of the expiration checker
	stopCh chan struct{}
	once   sync.Once
	closed bool

	now func() time.Time
}

// NewMemoryStore creates a store and starts its expiration checker
func NewMemoryStore(config MemoryConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		config:  config,
		logger:  logger.Named("cache"),
		entries: make(map[string]Entry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	if config.ExpirationCheckInterval > 0 {
		go s.expirationChecker()
	}
	return s
}

// Get returns a live entry
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.closed {
		return Entry{}, false, ErrClosed
	}

	entry, ok := s.entries[key]
	if !ok || entry.Expired(s.now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Set stores an entry, evicting expired entries first when the store is full
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return ErrClosed
	}

	now := s.now()
	entry.CreatedAt = now
	entry.ExpiresAt = time.Time{}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}

	if _, exists := s.entries[key]; !exists && s.config.MaxEntries > 0 && len(s.entries) >= s.config.MaxEntries {
		s.removeExpiredLocked(now)
		if len(s.entries) >= s.config.MaxEntries {
			s.evictOldestLocked()
		}
	}

	s.entries[key] = entry
	return nil
}

// Len returns the number of stored entries, expired ones included until the next sweep
func (s *MemoryStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.entries)
}

// Close stops the expiration checker and drops all entries
func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		close(s.stopCh)

		s.lock.Lock()
		s.closed = true
		s.entries = make(map[string]Entry)
		s.lock.Unlock()
	})
	return nil
}

// expirationChecker periodically removes expired entries
func (s *MemoryStore) expirationChecker() {
	ticker := time.NewTicker(s.config.ExpirationCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) removeExpired() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if n := s.removeExpiredLocked(s.now()); n > 0 {
		s.logger.Debug("expired review entries removed", zap.Int("count", n))
	}
}

func (s *MemoryStore) removeExpiredLocked(now time.Time) int {
	expired := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			expired++
		}
	}
	return expired
}

func (s *MemoryStore) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range s.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldest) {
			oldestKey, oldest = key, entry.CreatedAt
		}
	}
	delete(s.entries, oldestKey)
}
