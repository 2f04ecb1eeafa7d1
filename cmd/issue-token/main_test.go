package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/identity"
)

func noEnv(string) string { return "" }

func TestRun_IssuesResolvableToken(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"-owner", "cashier-7", "-ttl", "1h"}, func(key string) string {
		if key == "POS_JWT_SECRET" {
			return "cli-secret"
		}
		return ""
	}, &out)
	require.NoError(t, err)

	resolver, err := identity.NewJWTResolver("cli-secret")
	require.NoError(t, err)
	owner, err := resolver.Resolve(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "cashier-7", owner)
}

func TestRun_SecretFlagWins(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-owner=owner-1", "-secret=flag-secret"}, noEnv, &out))

	resolver, err := identity.NewJWTResolver("flag-secret")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), strings.TrimSpace(out.String()))
	assert.NoError(t, err)
}

func TestRun_Errors(t *testing.T) {
	cases := map[string][]string{
		"missing owner":  {"-secret=s"},
		"negative ttl":   {"-owner=o", "-secret=s", "-ttl=-1m"},
		"missing secret": {"-owner=o"},
		"unknown flag":   {"-owner=o", "-bogus"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(args, noEnv, &out))
			assert.Empty(t, out.String())
		})
	}
}
