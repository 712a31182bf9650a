package spec

import "strings"

// UseInterceptProperty is the only well-known event_properties key: it
// requests replacement-style (interceptor) instrumentation for a call
// site instead of prefix/suffix probes.
const UseInterceptProperty = "call:use_intercept"

// UseInterceptTrue is the sentinel value meaning "yes" for
// UseInterceptProperty.
const UseInterceptTrue = "T"

// PropertyBag is the event_properties string->string->string map,
// accessed by longest-matching prefix of the event key.
type PropertyBag struct {
	byPrefix map[string]map[string]string
}

// NewPropertyBag constructs an empty property bag.
func NewPropertyBag() *PropertyBag {
	return &PropertyBag{byPrefix: map[string]map[string]string{}}
}

// Set installs propKey=propValue for every event key prefixed by
// eventKeyPrefix.
func (b *PropertyBag) Set(eventKeyPrefix, propKey, propValue string) {
	m, ok := b.byPrefix[eventKeyPrefix]
	if !ok {
		m = map[string]string{}
		b.byPrefix[eventKeyPrefix] = m
	}
	m[propKey] = propValue
}

// Get resolves propKey for eventKey by walking dotted prefixes of
// eventKey from most to least specific (including the empty prefix),
// returning the value at the first prefix that defines propKey.
func (b *PropertyBag) Get(eventKey, propKey string) (string, bool) {
	toks := strings.Split(eventKey, ".")
	for i := len(toks); i >= 0; i-- {
		prefix := strings.Join(toks[:i], ".")
		if m, ok := b.byPrefix[prefix]; ok {
			if v, ok := m[propKey]; ok {
				return v, true
			}
		}
	}
	return "", false
}

// UseIntercept reports whether eventKey carries
// call:use_intercept = "T".
func (b *PropertyBag) UseIntercept(eventKey string) bool {
	v, ok := b.Get(eventKey, UseInterceptProperty)
	return ok && v == UseInterceptTrue
}

// All exposes every (prefix, key, value) triple, for serialization.
func (b *PropertyBag) All() map[string]map[string]string { return b.byPrefix }
