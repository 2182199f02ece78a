package tiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMissingBinary(t *testing.T) {
	g := &Generator{Path: "/nonexistent/tippecanoe", Logger: discardLogger()}
	_, err := g.Generate(context.Background(), "in.geojson")
	assert.Error(t, err)
}

// Fake tippecanoe: a shell script that copies input to the -o target, so
// the argument wiring can be verified without the real binary.
func TestGenerateInvokesBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "tippecanoe")
	require.NoError(t, os.WriteFile(script, []byte(
		"#!/bin/sh\nwhile [ $# -gt 1 ]; do\n  if [ \"$1\" = \"-o\" ]; then out=$2; fi\n  shift\ndone\ncp \"$1\" \"$out\"\n"), 0o755))

	input := filepath.Join(dir, "activities.geojson")
	require.NoError(t, os.WriteFile(input, []byte(`{"type":"Feature"}`+"\n"), 0o644))

	g := &Generator{Path: script, Logger: discardLogger()}
	out, err := g.Generate(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "activities.pmtiles"), out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
