package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiersCommandPrintsCatalog(t *testing.T) {
	t.Setenv("TIER_CATALOG_PATH", "../../config/tiers.yml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"tiers"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "TIER")
	assert.Contains(t, out.String(), "basic")
}

func TestBalanceCommandRequiresAccount(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"balance"})

	require.Error(t, cmd.Execute())
}
