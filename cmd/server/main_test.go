package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"api", "worker", "standalone"})

	api, _, err := root.Find([]string{"api"})
	require.NoError(t, err)
	assert.NotNil(t, api.Flags().Lookup("port"))
	assert.Nil(t, api.Flags().Lookup("concurrency"))
}

func TestMemoryBackendNeedsStandalone(t *testing.T) {
	t.Setenv("DIAGRAMQ_BROKER_BACKEND", "memory")
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	for _, sub := range []string{"api", "worker"} {
		root := newRootCmd()
		root.SetArgs([]string{sub, "--config", cfgPath})
		err := root.ExecuteContext(context.Background())
		require.Error(t, err, sub)
		assert.Contains(t, err.Error(), "standalone", sub)
	}
}

func TestInvalidConfigIsRejected(t *testing.T) {
	t.Setenv("DIAGRAMQ_ENGINE_FAMILY", "mistral")

	root := newRootCmd()
	root.SetArgs([]string{"worker", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.family")
}
