package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env mirrors the recognized configuration keys as environment variables.
// With prefix "ORDERS_" the URI is read from ORDERS_URI, the subject from ORDERS_SUBJECT and so on.
type Env struct {
	Protocol string `env:"PROTOCOL"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	URI      string `env:"URI"`

	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	Token    string `env:"TOKEN"`

	Subject string `env:"SUBJECT"`
	Group   string `env:"GROUP"`

	AutoSubscribe    string `env:"AUTOSUBSCRIBE"`
	RetryConnect     string `env:"RETRY_CONNECT"`
	MaxReconnect     string `env:"MAX_RECONNECT"`
	ReconnectTimeout string `env:"RECONNECT_TIMEOUT"`
	FlushTimeout     string `env:"FLUSH_TIMEOUT"`
}

// Params converts the non-empty fields into dot-keyed configuration.
func (e Env) Params() Params {
	p := Params{}
	set := func(key, v string) {
		if v != "" {
			p.Set(key, v)
		}
	}

	set("connection.protocol", e.Protocol)
	set("connection.host", e.Host)
	set("connection.port", e.Port)
	set("connection.uri", e.URI)
	set("credential.username", e.Username)
	set("credential.password", e.Password)
	set("credential.token", e.Token)
	set("subject", e.Subject)
	set("group", e.Group)
	set("options.autosubscribe", e.AutoSubscribe)
	set("options.retry_connect", e.RetryConnect)
	set("options.max_reconnect", e.MaxReconnect)
	set("options.reconnect_timeout", e.ReconnectTimeout)
	set("options.flush_timeout", e.FlushTimeout)

	return p
}

// FromEnv loads a .env file from the working directory when one exists and
// parses prefixed environment variables into Params.
func FromEnv(prefix string) (Params, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var e Env
	if err := env.ParseWithOptions(&e, env.Options{Prefix: strings.ToUpper(prefix)}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	return e.Params(), nil
}
