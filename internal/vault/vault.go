// Package vault stores operator credentials encrypted at rest, keyed by an
// opaque session id. Plaintext exists only transiently inside a Get call;
// records expire on a sliding TTL and the store evicts least-recently-used
// entries when the concurrent-session cap is reached.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a session id is unknown, expired, or its
// record can no longer be decrypted.
var ErrNotFound = errors.New("session not found")

// Credentials is the decrypted content of a vault record.
type Credentials struct {
	Username string
	Password string
	Host     string
	Port     int
}

type record struct {
	username   string
	host       string
	port       int
	nonce      []byte
	ciphertext []byte
	createdAt  time.Time
	lastAccess time.Time
}

// Vault is the in-memory encrypted credential store.
type Vault struct {
	mu          sync.Mutex
	records     map[string]*record
	aead        cipher.AEAD
	ttl         time.Duration
	maxSessions int
	generated   bool
	now         func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New creates a Vault. key must be 32 bytes for AES-256-GCM; a nil key is
// replaced by a random per-process key, which intentionally invalidates all
// sessions across a restart.
func New(key []byte, ttl time.Duration, maxSessions int, opts ...Option) (*Vault, error) {
	generated := false
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate vault key: %w", err)
		}
		generated = true
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	if ttl <= 0 {
		return nil, errors.New("vault TTL must be positive")
	}
	if maxSessions <= 0 {
		return nil, errors.New("vault session cap must be positive")
	}

	v := &Vault{
		records:     make(map[string]*record),
		aead:        aead,
		ttl:         ttl,
		maxSessions: maxSessions,
		generated:   generated,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Generated reports whether the encryption key was auto-generated for this
// process, meaning sessions will not survive a restart.
func (v *Vault) Generated() bool {
	return v.generated
}

// Create encrypts the password and stores a new session record, evicting the
// least-recently-accessed session if the cap is reached. Returns the new
// opaque session id.
func (v *Vault) Create(username, password, host string, port int) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := v.aead.Seal(nil, nonce, []byte(password), []byte(username))

	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.records) >= v.maxSessions {
		v.evictOldestLocked()
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	now := v.now()
	v.records[id] = &record{
		username:   username,
		host:       host,
		port:       port,
		nonce:      nonce,
		ciphertext: ciphertext,
		createdAt:  now,
		lastAccess: now,
	}
	return id, nil
}

// newSessionID returns 128 bits from crypto/rand as hex.
func newSessionID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Get decrypts and returns the credentials for a session, refreshing its
// last-access time. Expired or undecryptable records are deleted and
// reported as not found.
func (v *Vault) Get(id string) (Credentials, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[id]
	if !ok {
		return Credentials{}, ErrNotFound
	}

	now := v.now()
	if now.Sub(rec.lastAccess) > v.ttl {
		delete(v.records, id)
		return Credentials{}, ErrNotFound
	}

	plaintext, err := v.aead.Open(nil, rec.nonce, rec.ciphertext, []byte(rec.username))
	if err != nil {
		// Key changed across a restart, or the record is corrupt.
		// Either way it is unusable and must not linger.
		delete(v.records, id)
		return Credentials{}, ErrNotFound
	}

	rec.lastAccess = now
	return Credentials{
		Username: rec.username,
		Password: string(plaintext),
		Host:     rec.host,
		Port:     rec.port,
	}, nil
}

// Live reports whether a session exists and has not idled out, without
// refreshing its last-access time. Expired records are deleted.
func (v *Vault) Live(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.records[id]
	if !ok {
		return false
	}
	if v.now().Sub(rec.lastAccess) > v.ttl {
		delete(v.records, id)
		return false
	}
	return true
}

// Destroy removes a session unconditionally. Idempotent; reports whether the
// session existed.
func (v *Vault) Destroy(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.records[id]; !ok {
		return false
	}
	delete(v.records, id)
	return true
}

// Len returns the number of live records, expired or not.
func (v *Vault) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}

// Sweep deletes all records whose idle time exceeds the TTL and returns the
// number removed.
func (v *Vault) Sweep() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	removed := 0
	for id, rec := range v.records {
		if now.Sub(rec.lastAccess) > v.ttl {
			delete(v.records, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep at a fixed interval until ctx is cancelled.
func (v *Vault) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.Sweep()
			}
		}
	}()
}

// evictOldestLocked removes the least-recently-accessed record. Caller holds
// the lock.
func (v *Vault) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, rec := range v.records {
		if oldestID == "" || rec.lastAccess.Before(oldest) {
			oldestID = id
			oldest = rec.lastAccess
		}
	}
	if oldestID != "" {
		delete(v.records, oldestID)
	}
}
