package config

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Params is a flat, dot-keyed configuration map such as
//
//	connection.host=localhost
//	connection.port=4222
//	credential.username=svc
//	subject=orders
//
// Keys are case-insensitive; they are normalized to lower case on write.
type Params map[string]string

// NewParams builds Params from alternating key/value pairs. A trailing key without value is ignored.
func NewParams(kv ...string) Params {
	p := make(Params, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}

	return p
}

// Set stores a value under a normalized key.
func (p Params) Set(key, value string) {
	p[normalize(key)] = value
}

// Get returns the value and whether the key is present.
func (p Params) Get(key string) (string, bool) {
	v, ok := p[normalize(key)]
	return v, ok
}

// String returns the value for key or def when the key is missing or empty.
func (p Params) String(key, def string) string {
	if v, ok := p.Get(key); ok && v != "" {
		return v
	}

	return def
}

// FirstOf returns the first non-empty value among keys, in precedence order.
func (p Params) FirstOf(keys ...string) string {
	for _, k := range keys {
		if v, ok := p.Get(k); ok && v != "" {
			return v
		}
	}

	return ""
}

// Bool parses a boolean value; unparseable or missing values yield def.
func (p Params) Bool(key string, def bool) bool {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def
	}

	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}

	return def
}

// Int parses an integer value; unparseable or missing values yield def.
func (p Params) Int(key string, def int) int {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def
	}

	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}

	return n
}

// Duration parses either integer milliseconds ("3000") or a Go duration ("3s").
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v, ok := p.Get(key)
	if !ok || v == "" {
		return def
	}

	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}

	return d
}

// Section returns the keys under "name." with the prefix stripped.
func (p Params) Section(name string) Params {
	prefix := normalize(name) + "."
	out := Params{}

	for k, v := range p {
		if strings.HasPrefix(k, prefix) {
			out[k[len(prefix):]] = v
		}
	}

	return out
}

// SectionNames lists the distinct first path segments of all dotted keys, sorted.
// Numeric names sort numerically so "connections.10" follows "connections.9".
func (p Params) SectionNames() []string {
	seen := map[string]struct{}{}

	for k := range p {
		if i := strings.IndexByte(k, '.'); i > 0 {
			seen[k[:i]] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}

	sort.Slice(names, func(i, j int) bool {
		a, aerr := strconv.Atoi(names[i])
		b, berr := strconv.Atoi(names[j])

		if aerr == nil && berr == nil {
			return a < b
		}

		return names[i] < names[j]
	})

	return names
}

// Override returns a copy of p with every key of other applied on top.
func (p Params) Override(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}

	for k, v := range other {
		out[normalize(k)] = v
	}

	return out
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
