package backupio

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/dmitrijs2005/gophbackup/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a/b/c", bytes.NewReader([]byte("v1")), 2))
	require.NoError(t, s.Put(ctx, "a/b/c", bytes.NewReader([]byte("v2")), 2))

	rc, err := s.Get(ctx, "a/b/c")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
}

func TestFSStore_RejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(ctx, "../outside", bytes.NewReader(nil), 0)
	require.ErrorIs(t, err, common.ErrorUnsafePath)

	_, err = s.Get(ctx, "/etc/passwd")
	require.ErrorIs(t, err, common.ErrorUnsafePath)
}

func TestFSStore_GetMissing(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}
