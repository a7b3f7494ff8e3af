package bucketing

import (
	"encoding/binary"
	"hash"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Manager maps record identifiers onto a fixed number of buckets. The same
// identifier always lands in the same bucket, which the dedup cache uses to
// pick a shard and the watcher uses to pick a worker.
type Manager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewManager(buckets int) *Manager {
	if buckets <= 0 {
		buckets = 1
	}

	bm := &Manager{buckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// Buckets returns the number of buckets.
func (bm *Manager) Buckets() int {
	return bm.buckets
}

// BucketFor returns the bucket (0 to Buckets()-1) for a numeric record id.
func (bm *Manager) BucketFor(id uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return int(bm.sum(buf[:]) % uint64(bm.buckets))
}

// BucketForKey returns the bucket for an arbitrary string key.
func (bm *Manager) BucketForKey(key string) int {
	return int(bm.sum([]byte(key)) % uint64(bm.buckets))
}

// KeyFor renders a record id the way external stores key it.
func KeyFor(scope string, id uint64) string {
	return scope + ":" + strconv.FormatUint(id, 10)
}

func (bm *Manager) sum(b []byte) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write(b)
	return hasher.Sum64()
}
