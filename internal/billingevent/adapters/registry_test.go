package adapters

import (
	"context"
	"net/http"
	"testing"

	"github.com/smallbiznis/tokenledger/internal/billingevent/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ secret string }

func (stubAdapter) Verify(context.Context, []byte, http.Header) error { return nil }

func (stubAdapter) Parse(context.Context, []byte) (domain.Event, error) {
	return domain.Unrecognized{}, nil
}

type stubFactory struct{ name string }

func (f stubFactory) Provider() string { return f.name }

func (f stubFactory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	return stubAdapter{secret: cfg.WebhookSecret}, nil
}

func TestRegistryResolvesProviderCaseInsensitively(t *testing.T) {
	registry := NewRegistry(stubFactory{name: " Stripe "}, nil, stubFactory{name: ""})

	assert.Equal(t, []string{"stripe"}, registry.Providers())

	adapter, err := registry.NewAdapter("STRIPE", domain.AdapterConfig{WebhookSecret: "whsec_1"})
	require.NoError(t, err)
	assert.Equal(t, stubAdapter{secret: "whsec_1"}, adapter)
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := NewRegistry(stubFactory{name: "stripe"})

	_, err := registry.NewAdapter("paddle", domain.AdapterConfig{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
	assert.Contains(t, err.Error(), "paddle")

	var empty *Registry
	assert.Nil(t, empty.Providers())
	_, err = empty.NewAdapter("stripe", domain.AdapterConfig{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}
