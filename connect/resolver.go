package connect

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/next-trace/scg-message-queue/config"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

// Resolver turns connection.*, connections.<n>.*, credential.* and options.* keys
// into Options for one broker protocol.
type Resolver struct {
	Protocol    string
	DefaultPort int
}

// NewResolver creates a resolver accepting only the given protocol.
func NewResolver(protocol string, defaultPort int) *Resolver {
	return &Resolver{Protocol: protocol, DefaultPort: defaultPort}
}

type block struct {
	protocol string
	host     string
	port     string
	uri      string
}

type parsedURI struct {
	servers  []string
	username string
	password string
}

// Resolve validates the configuration and composes normalized Options.
// Credentials are not validated here; the broker rejects them on connect.
func (r *Resolver) Resolve(ctx context.Context, p config.Params) (*Options, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blocks := connectionBlocks(p)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: connection is not configured", berr.ErrConfiguration)
	}

	var (
		fromURI   []string
		discrete  []string
		uriCreds  parsedURI
		haveCreds bool
	)

	for i, b := range blocks {
		if b.protocol != "" && !strings.EqualFold(b.protocol, r.Protocol) {
			return nil, fmt.Errorf("%w: connection %d: protocol %q is not supported, want %q",
				berr.ErrConfiguration, i, b.protocol, r.Protocol)
		}

		if b.uri != "" {
			u, err := r.parseURI(b.uri)
			if err != nil {
				return nil, fmt.Errorf("%w: connection %d: %w", berr.ErrConfiguration, i, err)
			}

			fromURI = append(fromURI, u.servers...)

			if !haveCreds && (u.username != "" || u.password != "") {
				uriCreds, haveCreds = u, true
			}

			continue
		}

		if b.host == "" {
			return nil, fmt.Errorf("%w: connection %d: host is not set", berr.ErrConfiguration, i)
		}

		server, err := r.hostPort(b.host, b.port)
		if err != nil {
			return nil, fmt.Errorf("%w: connection %d: %w", berr.ErrConfiguration, i, err)
		}

		discrete = append(discrete, server)
	}

	servers := discrete
	if len(fromURI) > 0 {
		servers = fromURI
	}

	opts := &Options{
		Protocol: r.Protocol,
		Servers:  servers,
		Username: uriCreds.username,
		Password: uriCreds.password,
		Tuning:   tuning(p.Section("options")),
	}

	cred := p.Section("credential")
	if v := cred.FirstOf("username", "user"); v != "" {
		opts.Username = v
	}

	if v := cred.FirstOf("password", "pass"); v != "" {
		opts.Password = v
	}

	opts.Token = cred.FirstOf("token", "access_key")

	return opts, nil
}

func connectionBlocks(p config.Params) []block {
	var out []block

	many := p.Section("connections")
	for _, name := range many.SectionNames() {
		out = append(out, toBlock(many.Section(name)))
	}

	if single := p.Section("connection"); len(single) > 0 {
		out = append(out, toBlock(single))
	}

	return out
}

func toBlock(s config.Params) block {
	return block{
		protocol: s.String("protocol", ""),
		host:     s.String("host", ""),
		port:     s.String("port", ""),
		uri:      s.String("uri", ""),
	}
}

func (r *Resolver) hostPort(host, port string) (string, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if port == "" {
		return net.JoinHostPort(host, strconv.Itoa(r.DefaultPort)), nil
	}

	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}

	return net.JoinHostPort(host, port), nil
}

// splitHostPort splits "host[:port]", including bracketed IPv6 literals
// ("[::1]:4222", "[::1]"). A missing port is returned empty.
func splitHostPort(item string) (string, string) {
	if strings.HasPrefix(item, "[") {
		if host, port, err := net.SplitHostPort(item); err == nil {
			return host, port
		}

		host, rest, _ := strings.Cut(item[1:], "]")

		return host, strings.TrimPrefix(rest, ":")
	}

	host, port, _ := strings.Cut(item, ":")

	return host, port
}

// parseURI accepts "proto://[user:pass@]h1:p1,h2:p2[/path]" where each item may
// repeat the scheme ("nats://h1:4222,nats://h2:4222").
func (r *Resolver) parseURI(raw string) (parsedURI, error) {
	var out parsedURI

	rest := strings.TrimSpace(raw)

	for i, item := range strings.Split(rest, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		if scheme, after, ok := strings.Cut(item, "://"); ok {
			if !strings.EqualFold(scheme, r.Protocol) {
				return out, fmt.Errorf("protocol %q is not supported, want %q", scheme, r.Protocol)
			}

			item = after
		}

		if at := strings.LastIndexByte(item, '@'); at >= 0 {
			if i == 0 {
				out.username, out.password, _ = strings.Cut(item[:at], ":")
			}

			item = item[at+1:]
		}

		if slash := strings.IndexByte(item, '/'); slash >= 0 {
			item = item[:slash]
		}

		host, port := splitHostPort(item)
		if host == "" {
			return out, fmt.Errorf("uri %q: empty host", redact(raw))
		}

		server, err := r.hostPort(host, port)
		if err != nil {
			return out, fmt.Errorf("uri %q: %w", redact(raw), err)
		}

		out.servers = append(out.servers, server)
	}

	if len(out.servers) == 0 {
		return out, fmt.Errorf("uri %q: no servers", redact(raw))
	}

	return out, nil
}

func tuning(o config.Params) Tuning {
	def := DefaultTuning()

	return Tuning{
		RetryConnect:     o.Bool("retry_connect", def.RetryConnect),
		MaxReconnect:     o.Int("max_reconnect", def.MaxReconnect),
		ReconnectTimeout: o.Duration("reconnect_timeout", def.ReconnectTimeout),
		FlushTimeout:     o.Duration("flush_timeout", def.FlushTimeout),
	}
}

func redact(uri string) string {
	at := strings.LastIndexByte(uri, '@')
	if at < 0 {
		return uri
	}

	start := strings.Index(uri, "://")
	if start < 0 || start > at {
		return "***" + uri[at:]
	}

	return uri[:start+3] + "***" + uri[at:]
}
