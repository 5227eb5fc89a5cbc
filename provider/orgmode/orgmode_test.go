package orgmode_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/provider/orgmode"
)

func writeOrgFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSyncEmptyDirectoryProducesNoChanges(t *testing.T) {
	dir := t.TempDir()
	p := orgmode.New(dir)

	fileSub := p.Files().Subscribe()
	defer fileSub.Unsubscribe()

	pos, err := p.Sync(t.Context(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, pos)

	ev, err := fileSub.Recv(t.Context())
	require.NoError(t, err)
	require.NotNil(t, ev.Batch)
	assert.Empty(t, ev.Batch.Changes)
}

func TestSyncWithOrgFileEmitsFileAndHeadlineChanges(t *testing.T) {
	dir := t.TempDir()
	writeOrgFile(t, dir, "test.org", "* Headline 1\n** TODO Nested headline\n")

	p := orgmode.New(dir)
	fileSub := p.Files().Subscribe()
	defer fileSub.Unsubscribe()
	headlineSub := p.Headlines().Subscribe()
	defer headlineSub.Unsubscribe()

	_, err := p.Sync(t.Context(), nil)
	require.NoError(t, err)

	fileEv, err := fileSub.Recv(t.Context())
	require.NoError(t, err)
	require.Len(t, fileEv.Batch.Changes, 1)
	assert.Equal(t, change.Created, fileEv.Batch.Changes[0].Kind)

	headlineEv, err := headlineSub.Recv(t.Context())
	require.NoError(t, err)
	require.Len(t, headlineEv.Batch.Changes, 2)
	assert.Equal(t, "Headline 1", headlineEv.Batch.Changes[0].Data.Title)
	assert.Equal(t, "Nested headline", headlineEv.Batch.Changes[1].Data.Title)
	assert.Equal(t, "TODO", headlineEv.Batch.Changes[1].Data.TodoKeyword)
}

func TestSyncSecondPassSkipsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	writeOrgFile(t, dir, "test.org", "* Headline\n")

	p := orgmode.New(dir)
	pos1, err := p.Sync(t.Context(), nil)
	require.NoError(t, err)

	fileSub := p.Files().Subscribe()
	defer fileSub.Unsubscribe()

	_, err = p.Sync(t.Context(), pos1)
	require.NoError(t, err)

	ev, err := fileSub.Recv(t.Context())
	require.NoError(t, err)
	assert.Empty(t, ev.Batch.Changes, "unchanged file must not be re-emitted")
}

func TestSyncDetectsFileDeletion(t *testing.T) {
	dir := t.TempDir()
	path := writeOrgFile(t, dir, "test.org", "* Headline\n")

	p := orgmode.New(dir)
	pos1, err := p.Sync(t.Context(), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	fileSub := p.Files().Subscribe()
	defer fileSub.Unsubscribe()

	_, err = p.Sync(t.Context(), pos1)
	require.NoError(t, err)

	ev, err := fileSub.Recv(t.Context())
	require.NoError(t, err)
	require.Len(t, ev.Batch.Changes, 1)
	assert.Equal(t, change.Deleted, ev.Batch.Changes[0].Kind)
}
