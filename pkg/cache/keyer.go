package cache

import (
	"net/url"
	"strings"
)

// Keyer builds cache keys for requests. Identical logical requests must map
// to identical keys regardless of the order parameters were added in.
// Each upstream client may supply its own Keyer when it normalizes requests
// differently (case folding, dropped tracking parameters, ...).
type Keyer interface {
	RequestKey(endpoint string, params url.Values) string
}

// KeyerFunc adapts a function to the [Keyer] interface.
type KeyerFunc func(endpoint string, params url.Values) string

// RequestKey calls f.
func (f KeyerFunc) RequestKey(endpoint string, params url.Values) string { return f(endpoint, params) }

// DefaultKeyer keys a request as endpoint?params, with parameter names
// sorted and percent-encoded. Values of a repeated parameter keep their order
// since upstreams may treat it as significant.
type DefaultKeyer struct{}

// NewDefaultKeyer returns a [DefaultKeyer].
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

// RequestKey implements [Keyer].
func (DefaultKeyer) RequestKey(endpoint string, params url.Values) string {
	endpoint = "/" + strings.TrimLeft(endpoint, "/")
	if len(params) == 0 {
		return endpoint
	}
	// url.Values.Encode sorts by key.
	return endpoint + "?" + params.Encode()
}

// ScopedKeyer wraps a Keyer with a prefix, typically the upstream name, so
// that keys from different upstreams can never collide.
//
// Example usage:
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "ninja:")
//	keyer.RequestKey("/currencyoverview", url.Values{"league": {"Standard"}})
//	// "ninja:/currencyoverview?league=Standard"
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// RequestKey implements [Keyer].
func (k *ScopedKeyer) RequestKey(endpoint string, params url.Values) string {
	return k.prefix + k.inner.RequestKey(endpoint, params)
}

// HashedKeyer replaces the canonical key of inner with prefix:sha256(key).
// Useful for upstreams whose queries are long, such as trade searches with
// dozens of filters.
type HashedKeyer struct {
	inner  Keyer
	prefix string
}

// NewHashedKeyer creates a hashing keyer.
func NewHashedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &HashedKeyer{inner: inner, prefix: prefix}
}

// RequestKey implements [Keyer].
func (k *HashedKeyer) RequestKey(endpoint string, params url.Values) string {
	return hashKey(k.prefix, k.inner.RequestKey(endpoint, params))
}
