package http

import "strings"

// Header is a multimap of header fields. Keys are stored lower-cased and kept
// in insertion order; every value of a repeated field is preserved in the
// order it was added. The zero value is ready to use.
type Header struct {
	keys   []string
	values map[string][]string
}

// Add appends value to the values of key
func (h *Header) Add(key, value string) {
	key = strings.ToLower(key)
	if h.values == nil {
		h.values = make(map[string][]string, 8)
	}
	if _, ok := h.values[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.values[key] = append(h.values[key], value)
}

// Set replaces all values of key with value
func (h *Header) Set(key, value string) {
	h.Del(key)
	h.Add(key, value)
}

// Get returns the first value of key
func (h *Header) Get(key string) (string, bool) {
	vs := h.values[strings.ToLower(key)]
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns every value of key in the order they were added.
// The returned slice must not be modified.
func (h *Header) Values(key string) []string {
	return h.values[strings.ToLower(key)]
}

// Has reports whether key is present
func (h *Header) Has(key string) bool {
	_, ok := h.values[strings.ToLower(key)]
	return ok
}

// Del removes key and all its values
func (h *Header) Del(key string) {
	key = strings.ToLower(key)
	if _, ok := h.values[key]; !ok {
		return
	}
	delete(h.values, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the stored keys in insertion order
func (h *Header) Keys() []string {
	return h.keys
}

// Len returns the number of distinct keys
func (h *Header) Len() int {
	return len(h.keys)
}
