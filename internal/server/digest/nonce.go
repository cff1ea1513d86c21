package digest

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/imagesigner/internal/common"
)

// nonceBytes is the entropy of an issued nonce: 16 bytes, 128 bits,
// hex-encoded to 32 characters.
const nonceBytes = 16

// NonceStore issues and consumes single-use, time-bounded nonces. It is
// in-process only: nonces do not survive a restart and do not need to,
// they only have to be unpredictable and unreplayable within their TTL.
type NonceStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	opaque string
	nonces map[string]time.Time

	// now is a seam for tests.
	now func() time.Time
}

func NewNonceStore(ttl time.Duration) (*NonceStore, error) {
	opaque, err := common.MakeRandHexString(nonceBytes)
	if err != nil {
		return nil, err
	}
	return &NonceStore{
		ttl:    ttl,
		opaque: opaque,
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}, nil
}

// Issue mints a fresh nonce and records its issue time. Expired entries
// are swept opportunistically so the map stays bounded by the number of
// challenges issued per TTL window.
func (s *NonceStore) Issue() (string, error) {
	nonce, err := common.MakeRandHexString(nonceBytes)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for n, issued := range s.nonces {
		if now.Sub(issued) > s.ttl {
			delete(s.nonces, n)
		}
	}
	s.nonces[nonce] = now
	return nonce, nil
}

// Consume marks the nonce used and reports whether it was valid: issued
// by this store, not yet consumed, and within its TTL. A consumed nonce
// never validates twice, which is what closes the replay window.
func (s *NonceStore) Consume(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	issued, ok := s.nonces[nonce]
	if !ok {
		return false
	}
	delete(s.nonces, nonce)
	return s.now().Sub(issued) <= s.ttl
}

// Opaque returns the store's opaque value, echoed by clients in every
// challenge round-trip.
func (s *NonceStore) Opaque() string {
	return s.opaque
}
