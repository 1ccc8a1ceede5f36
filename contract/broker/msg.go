package broker

// Msg is a broker-native message as seen by this library.
// Header values are single strings; drivers flatten multi-valued headers to the first value.
type Msg struct {
	Subject string
	Header  map[string]string
	Data    []byte
}

// HeaderValue returns the header value and whether the key was present at all.
func (m *Msg) HeaderValue(key string) (string, bool) {
	if m == nil || m.Header == nil {
		return "", false
	}

	v, ok := m.Header[key]

	return v, ok
}
