package bucket

import (
	"net/http"
	"sync"

	"github.com/block/throttle-go/parsers"
	"github.com/block/throttle-go/quota"
)

// Unknown is the bucket every request falls into until the server
// tells us otherwise.
const Unknown quota.BucketKey = "unknown"

// Descriptor is the part of a request a Resolver looks at.
type Descriptor struct {
	Method string
	Path   string
	// Hint is an explicit bucket chosen by the caller. Empty means
	// "let the resolver decide".
	Hint quota.BucketKey
}

func (d Descriptor) route() string {
	return d.Method + " " + d.Path
}

// Resolver maps a request to the quota bucket it draws from.
//
// Resolve is called with a nil header before a request is sent, and
// with the response header once the server has answered. A Resolver must
// not invent a fine-grained mapping before the server has confirmed one:
// with no better information it returns Unknown.
//
// Implementations must be safe for concurrent use.
//
// Usage Example:
//
//	r := bucket.NewLearningResolver()
//	key := r.Resolve(desc, nil)          // "unknown" on the first call
//	key = r.Resolve(desc, res.Header)    // "search" if the server said so
//	key = r.Resolve(desc, nil)           // "search" from now on
type Resolver interface {
	Resolve(desc Descriptor, header http.Header) quota.BucketKey
}

type staticResolver struct {
	key quota.BucketKey
}

var _ Resolver = &staticResolver{}

// NewStaticResolver puts every request in key, or in Unknown if key is empty.
func NewStaticResolver(key quota.BucketKey) Resolver {
	if key == "" {
		key = Unknown
	}
	return &staticResolver{key: key}
}

func (r *staticResolver) Resolve(desc Descriptor, _ http.Header) quota.BucketKey {
	if desc.Hint != "" {
		return desc.Hint
	}
	return r.key
}

type learningResolver struct {
	mu     sync.RWMutex
	routes map[string]quota.BucketKey
}

var _ Resolver = &learningResolver{}

// NewLearningResolver remembers, per method and path, the bucket the
// server named in its X-RateLimit-Resource header.
func NewLearningResolver() Resolver {
	return &learningResolver{
		routes: make(map[string]quota.BucketKey),
	}
}

func (r *learningResolver) Resolve(desc Descriptor, header http.Header) quota.BucketKey {
	if desc.Hint != "" {
		return desc.Hint
	}

	route := desc.route()
	if header != nil {
		if key, ok := parsers.BucketFromHeaders(header); ok {
			r.mu.Lock()
			r.routes[route] = key
			r.mu.Unlock()
			return key
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if key, ok := r.routes[route]; ok {
		return key
	}
	return Unknown
}
