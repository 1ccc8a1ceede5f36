package connect_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-message-queue/config"
	"github.com/next-trace/scg-message-queue/connect"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

func natsResolver() *connect.Resolver { return connect.NewResolver("nats", 4222) }

func TestResolve_DiscreteBlocks(t *testing.T) {
	t.Parallel()

	p := config.NewParams(
		"connections.0.host", "n1",
		"connections.0.port", "4223",
		"connections.1.host", "n2",
		"connections.1.protocol", "NATS",
		"credential.username", "svc",
		"credential.password", "secret",
	)

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"n1:4223", "n2:4222"}, opts.Servers)
	assert.Equal(t, "svc", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "nats://n1:4223,nats://n2:4222", opts.URL())
	assert.NotContains(t, opts.String(), "secret")
}

func TestResolve_URIWithInlineCredentials(t *testing.T) {
	t.Parallel()

	p := config.NewParams("connection.uri", "nats://alice:pw@h1:4222,h2:5222,nats://h3/path")

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"h1:4222", "h2:5222", "h3:4222"}, opts.Servers)
	assert.Equal(t, "alice", opts.Username)
	assert.Equal(t, "pw", opts.Password)
}

func TestResolve_IPv6Hosts(t *testing.T) {
	t.Parallel()

	p := config.NewParams("connection.uri", "nats://alice:pw@[::1]:4223,[fe80::1],nats://[2001:db8::7]/path")

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"[::1]:4223", "[fe80::1]:4222", "[2001:db8::7]:4222"}, opts.Servers)
	assert.Equal(t, "alice", opts.Username)
	assert.Equal(t, "nats://[::1]:4223,nats://[fe80::1]:4222,nats://[2001:db8::7]:4222", opts.URL())

	discrete := config.NewParams("connection.host", "::1", "connection.port", "4225")

	opts, err = natsResolver().Resolve(t.Context(), discrete)
	require.NoError(t, err)
	assert.Equal(t, []string{"[::1]:4225"}, opts.Servers)
}

func TestResolve_URIWinsOverDiscrete(t *testing.T) {
	t.Parallel()

	p := config.NewParams(
		"connections.0.host", "ignored",
		"connections.1.uri", "nats://u1:4222",
	)

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:4222"}, opts.Servers)
}

func TestResolve_CredentialBlockOverridesURI(t *testing.T) {
	t.Parallel()

	p := config.NewParams(
		"connection.uri", "nats://alice:pw@h1:4222",
		"credential.username", "bob",
		"credential.token", "tok",
	)

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)

	assert.Equal(t, "bob", opts.Username)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, "tok", opts.Token)
}

func TestResolve_Tuning(t *testing.T) {
	t.Parallel()

	p := config.NewParams("connection.host", "h")

	opts, err := natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)
	assert.Equal(t, connect.DefaultTuning(), opts.Tuning)

	p = p.Override(config.NewParams(
		"options.retry_connect", "false",
		"options.max_reconnect", "10",
		"options.reconnect_timeout", "500",
		"options.flush_timeout", "1s",
	))

	opts, err = natsResolver().Resolve(t.Context(), p)
	require.NoError(t, err)
	assert.Equal(t, connect.Tuning{
		RetryConnect:     false,
		MaxReconnect:     10,
		ReconnectTimeout: 500 * time.Millisecond,
		FlushTimeout:     time.Second,
	}, opts.Tuning)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]config.Params{
		"no connection":      config.NewParams("subject", "x"),
		"missing host":       config.NewParams("connection.port", "4222"),
		"wrong protocol":     config.NewParams("connection.protocol", "amqp", "connection.host", "h"),
		"wrong uri protocol": config.NewParams("connection.uri", "amqp://h:5672"),
		"bad port":           config.NewParams("connection.host", "h", "connection.port", "abc"),
		"empty uri host":     config.NewParams("connection.uri", "nats://:4222"),
	}

	for name, p := range cases {
		_, err := natsResolver().Resolve(t.Context(), p)
		assert.ErrorIs(t, err, berr.ErrConfiguration, name)
	}
}

func TestResolve_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := natsResolver().Resolve(ctx, config.NewParams("connection.host", "h"))
	assert.True(t, errors.Is(err, context.Canceled))
}
