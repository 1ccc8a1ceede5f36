package connect

import (
	"fmt"
	"strings"
	"time"
)

// Tuning carries connection-level knobs passed through to the driver unchanged.
type Tuning struct {
	RetryConnect     bool
	MaxReconnect     int
	ReconnectTimeout time.Duration
	FlushTimeout     time.Duration
}

// DefaultTuning matches the documented defaults of the options.* keys.
func DefaultTuning() Tuning {
	return Tuning{
		RetryConnect:     true,
		MaxReconnect:     3,
		ReconnectTimeout: 3 * time.Second,
	}
}

// Options is a resolved, normalized connection description. Treat as immutable.
type Options struct {
	Protocol string
	Servers  []string // host:port, in configuration order
	Username string
	Password string
	Token    string
	Tuning   Tuning
}

// URLs returns one "protocol://host:port" per server.
func (o *Options) URLs() []string {
	out := make([]string, len(o.Servers))
	for i, s := range o.Servers {
		out[i] = o.Protocol + "://" + s
	}

	return out
}

// URL joins URLs with commas, the form NATS clients accept for a cluster.
func (o *Options) URL() string {
	return strings.Join(o.URLs(), ",")
}

// String is safe for logs: secrets are redacted.
func (o *Options) String() string {
	auth := "none"

	switch {
	case o.Token != "":
		auth = "token"
	case o.Username != "":
		auth = "user=" + o.Username
	}

	return fmt.Sprintf("%s servers=%s auth=%s", o.Protocol, strings.Join(o.Servers, ","), auth)
}
