package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsUnknownKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/credits"),
		attribute.String("account_id", "acct_1"),
		attribute.String("ledger.kind", "renewal"),
	)
	assert.Len(t, attrs, 2)
	for _, attr := range attrs {
		assert.NotEqual(t, attribute.Key("account_id"), attr.Key)
	}
}

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("persistence_failure: %w", errors.New("pq: password authentication failed for user tokenledger"))
	assert.EqualError(t, SafeError(err), "persistence_failure")
	assert.Nil(t, SafeError(nil))
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.25, clampRatio(0.25))
}
