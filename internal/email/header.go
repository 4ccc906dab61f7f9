package email

import (
	"fmt"
	"maps"
	"strings"
)

// HeaderStore holds custom message headers. Names are unique and the last
// write wins.
type HeaderStore struct {
	headers map[string]string
}

// NewHeaderStore creates an empty store.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{headers: make(map[string]string)}
}

// AddHeader inserts or overwrites a header. Both name and value must be
// non-empty.
func (h *HeaderStore) AddHeader(name, value string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidHeader)
	}
	if value == "" {
		return fmt.Errorf("%w: value for %q is empty", ErrInvalidHeader, name)
	}
	h.headers[name] = value
	return nil
}

// SetHeaders replaces all headers with the given map. Pairs are applied one
// by one; the first invalid pair stops processing and is returned.
func (h *HeaderStore) SetHeaders(headers map[string]string) error {
	clear(h.headers)
	for name, value := range headers {
		if err := h.AddHeader(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the value stored for name.
func (h *HeaderStore) Header(name string) (string, bool) {
	v, ok := h.headers[name]
	return v, ok
}

// Headers returns a snapshot of all headers.
func (h *HeaderStore) Headers() map[string]string {
	return maps.Clone(h.headers)
}

// hasHeader reports whether a header with the given name exists, ignoring case.
func (h *HeaderStore) hasHeader(name string) bool {
	_, ok := h.lookupFold(name)
	return ok
}

// lookupFold returns the value of the header named name, ignoring case.
func (h *HeaderStore) lookupFold(name string) (string, bool) {
	for k, v := range h.headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
