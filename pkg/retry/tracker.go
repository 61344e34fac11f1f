package retry

import (
	"fmt"
	"time"

	kv "github.com/patrickmn/go-cache"
	"k8s.io/apimachinery/pkg/types"
)

const (
	defaultExpiration time.Duration = 1 * time.Hour
	cleanupInterval   time.Duration = 10 * time.Minute
)

// Tracker counts the attempts made to handle a given version of a
// resource. Counters expire so a resource that stops failing, or that
// is never seen again, does not hold memory forever.
//
// The format of the keys is
//
//	<uid>:<operation>:<fingerprint>
type Tracker struct {
	store *kv.Cache
}

// NewTracker returns a Tracker whose counters expire after expiration
func NewTracker(expiration time.Duration) *Tracker {
	if expiration <= 0 {
		expiration = defaultExpiration
	}
	return &Tracker{store: kv.New(expiration, cleanupInterval)}
}

// Key returns the tracker key for an operation over a version of a resource
func Key(uid types.UID, operation, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", uid, operation, fingerprint)
}

// Increment records a new attempt and returns the number of attempts
// made so far, this one included
func (t *Tracker) Increment(key string) int {
	if err := t.store.Add(key, 1, kv.DefaultExpiration); err == nil {
		return 1
	}
	n, err := t.store.IncrementInt(key, 1)
	if err != nil {
		// the item expired between the two calls
		t.store.Set(key, 1, kv.DefaultExpiration)
		return 1
	}
	return n
}

// Reset forgets the attempts recorded for the key
func (t *Tracker) Reset(key string) {
	t.store.Delete(key)
}
