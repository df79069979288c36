package metadata

import (
	"net/http"
	"strings"
)

// Metadata carries string headers for one operation or one event-bus message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// ApplyTo writes every entry onto h, replacing existing values.
func (m Metadata) ApplyTo(h http.Header) {
	for k, v := range m {
		h.Set(k, v)
	}
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromHTTP copies the first value of every header whose canonical name starts
// with one of prefixes. No prefixes copies everything.
func FromHTTP(h http.Header, prefixes ...string) Metadata {
	md := make(Metadata, len(h))
	for k, values := range h {
		if len(values) == 0 || !hasAnyPrefix(k, prefixes) {
			continue
		}
		md[k] = values[0]
	}
	return md
}

func hasAnyPrefix(key string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(key, http.CanonicalHeaderKey(p)) {
			return true
		}
	}
	return false
}
