package maneuver

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingClassifier memoizes another classifier keyed by a hash of the boat
// class and feature vector. Caching never changes results.
type CachingClassifier struct {
	next  Classifier
	cache *cache.Cache
}

// NewCachingClassifier wraps next. A ttl <= 0 keeps entries until the
// process exits.
func NewCachingClassifier(next Classifier, ttl time.Duration) *CachingClassifier {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = 2 * ttl
	}
	return &CachingClassifier{
		next:  next,
		cache: cache.New(expiration, cleanup),
	}
}

// Classify returns the cached hypotheses for an identical feature vector or
// asks the wrapped classifier.
func (c *CachingClassifier) Classify(m *Maneuver) ([]Hypothesis, error) {
	key := FeatureKey(m)
	if v, ok := c.cache.Get(key); ok {
		return cloneHypotheses(v.([]Hypothesis)), nil
	}
	hs, err := c.next.Classify(m)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cloneHypotheses(hs), cache.DefaultExpiration)
	return hs, nil
}

// Len returns the number of cached entries.
func (c *CachingClassifier) Len() int {
	return c.cache.ItemCount()
}

// FeatureKey hashes the boat class and feature vector of m.
func FeatureKey(m *Maneuver) string {
	h := sha1.New()
	h.Write([]byte(m.BoatClass))
	h.Write([]byte{0})
	var buf [8]byte
	for _, f := range m.Features() {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneHypotheses(hs []Hypothesis) []Hypothesis {
	out := make([]Hypothesis, len(hs))
	copy(out, hs)
	return out
}
