package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payneio/amplifier-bundle-foreman/pkg/cerr"
)

func writeBundleDir(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte(manifest), 0o644))
	return dir
}

func TestClaudeLoader_LoadDirectory(t *testing.T) {
	dir := writeBundleDir(t, `
name: builder
description: builds things
system_prompt: You build things.
permission_mode: acceptEdits
providers: [claude]
`)
	loader := NewClaudeLoader(t.TempDir(), nil)

	b, err := loader.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "builder", b.Name())

	prepared, err := b.Prepare(context.Background())
	require.NoError(t, err)

	session, err := prepared.CreateSession(context.Background(), SessionOptions{ParentID: "p1"})
	require.NoError(t, err)
	defer session.Cleanup()
	require.NotNil(t, session)
}

func TestClaudeLoader_LoadFileScheme(t *testing.T) {
	dir := writeBundleDir(t, "system_prompt: work\n")
	loader := NewClaudeLoader(t.TempDir(), nil)

	b, err := loader.Load(context.Background(), "file:"+dir)
	require.NoError(t, err)
	// Name defaults to the directory base when the manifest omits it.
	assert.Equal(t, filepath.Base(dir), b.Name())
}

func TestClaudeLoader_MissingManifest(t *testing.T) {
	loader := NewClaudeLoader(t.TempDir(), nil)

	_, err := loader.Load(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestClaudeLoader_InvalidManifest(t *testing.T) {
	dir := writeBundleDir(t, "system_prompt: [broken")
	loader := NewClaudeLoader(t.TempDir(), nil)

	_, err := loader.Load(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestPreparedBundle_ProviderInheritance(t *testing.T) {
	dir := writeBundleDir(t, "name: bare\nsystem_prompt: work\n")
	loader := NewClaudeLoader(t.TempDir(), nil)

	b, err := loader.Load(context.Background(), dir)
	require.NoError(t, err)
	prepared, err := b.Prepare(context.Background())
	require.NoError(t, err)

	// A bundle with no providers of its own inherits the parent's.
	session, err := prepared.CreateSession(context.Background(), SessionOptions{Providers: []string{"claude"}})
	require.NoError(t, err)
	defer session.Cleanup()
	cs, ok := session.(*claudeSession)
	require.True(t, ok)
	assert.Equal(t, []string{"claude"}, cs.providers)
}

func TestPreparedBundle_OwnProvidersWin(t *testing.T) {
	dir := writeBundleDir(t, "name: opinionated\nsystem_prompt: work\nproviders: [local]\n")
	loader := NewClaudeLoader(t.TempDir(), nil)

	b, err := loader.Load(context.Background(), dir)
	require.NoError(t, err)
	prepared, err := b.Prepare(context.Background())
	require.NoError(t, err)

	session, err := prepared.CreateSession(context.Background(), SessionOptions{Providers: []string{"claude"}})
	require.NoError(t, err)
	defer session.Cleanup()
	cs := session.(*claudeSession)
	assert.Equal(t, []string{"local"}, cs.providers)
}
