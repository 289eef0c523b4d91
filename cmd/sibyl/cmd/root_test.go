package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sibyl-search/sibyl/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"init", "serve", "query", "invalidate", "status", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestVersionCommandJSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestQueryRequiresArgument(t *testing.T) {
	_, err := execute(t, "query")
	require.Error(t, err)
}

func TestServerBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8787", serverBaseURL(":8787"))
	assert.Equal(t, "http://10.0.0.1:8787", serverBaseURL("10.0.0.1:8787"))
	assert.Equal(t, "http://example.com", serverBaseURL("http://example.com/"))
}
