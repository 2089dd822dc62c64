//go:build unix

package shm

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolIsSharedBetweenMappings(t *testing.T) {
	path, err := CreatePool(t.TempDir(), 4096)
	require.NoError(t, err)

	writer, err := Map(path, 4096, true)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := Map(path, 4096, false)
	require.NoError(t, err)
	defer reader.Close()

	copy(writer.Bytes()[100:], []byte("frame"))
	assert.Equal(t, []byte("frame"), reader.Bytes()[100:105])
}

func TestMapRejectsShortPool(t *testing.T) {
	path, err := CreatePool(t.TempDir(), 16)
	require.NoError(t, err)

	_, err = Map(path, 4096, false)
	assert.Error(t, err)
}

func TestRemovePool(t *testing.T) {
	path, err := CreatePool(t.TempDir(), 64)
	require.NoError(t, err)

	require.NoError(t, RemovePool(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, RemovePool(path))
}

func TestCreatePoolRejectsEmptySize(t *testing.T) {
	_, err := CreatePool(t.TempDir(), 0)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	path, err := CreatePool(t.TempDir(), 64)
	require.NoError(t, err)
	m, err := Map(path, 64, true)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
