package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/domain"
	"github.com/commstream/integration-pipeline/internal/registry"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := registry.New()
	_, ok := r.Lookup("discord")
	require.False(t, ok)

	r.Register(registry.Handler{
		Platform:      "discord",
		ProcessStream: func(*registry.StreamContext) error { return nil },
	})

	h, ok := r.Lookup("discord")
	require.True(t, ok)
	require.Equal(t, "discord", h.Platform)
	require.NotNil(t, h.ProcessStream)
	require.Nil(t, h.GenerateStreams)
}

func TestStreamContext_AbortWithError(t *testing.T) {
	t.Parallel()

	sc := registry.NewStreamContext(
		context.Background(), nil, nil, domain.Snapshot{}, false,
		registry.StreamRef{Identifier: "s1"},
		func(context.Context, string, domain.JSONBMap) error { return nil },
		func(context.Context, domain.JSONBMap) error { return nil },
		func(context.Context, domain.JSONBMap) error { return nil },
	)

	err := sc.AbortWithError("bad payload", map[string]any{"code": 400})
	var abort *domain.HandlerAbortError
	require.True(t, errors.As(err, &abort))
	require.Equal(t, "bad payload", abort.Message)

	err = sc.AbortRunWithError("fatal", nil)
	var runAbort *domain.RunAbortError
	require.True(t, errors.As(err, &runAbort))
}

func TestStreamContext_PublishStreamInvokesClosure(t *testing.T) {
	t.Parallel()

	var gotIdentifier string
	var gotData domain.JSONBMap

	sc := registry.NewStreamContext(
		context.Background(), nil, nil, domain.Snapshot{}, false,
		registry.StreamRef{},
		func(_ context.Context, identifier string, data domain.JSONBMap) error {
			gotIdentifier = identifier
			gotData = data
			return nil
		},
		func(context.Context, domain.JSONBMap) error { return nil },
		func(context.Context, domain.JSONBMap) error { return nil },
	)

	require.NoError(t, sc.PublishStream("child-a", domain.JSONBMap{"cursor": "x"}))
	require.Equal(t, "child-a", gotIdentifier)
	require.Equal(t, "x", gotData["cursor"])
}
