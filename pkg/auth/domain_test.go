package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	t.Run("RegisterIsIdempotent", func(t *testing.T) {
		tbl := NewTable()
		a, err := tbl.Register("testclient")
		require.NoError(t, err)
		b, err := tbl.Register("testclient")
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.Equal(t, []string{"testclient"}, tbl.Names())
	})

	t.Run("RegisterRejectsEmptyName", func(t *testing.T) {
		_, err := NewTable().Register("")
		assert.Error(t, err)
	})

	t.Run("FindTakesReference", func(t *testing.T) {
		tbl := NewTable()
		_, err := tbl.Register("testclient")
		require.NoError(t, err)

		d, err := tbl.Find("testclient")
		require.NoError(t, err)
		assert.Equal(t, int32(2), d.Refs())
		d.Put()
		assert.Equal(t, int32(1), d.Refs())
	})

	t.Run("FindUnknown", func(t *testing.T) {
		_, err := NewTable().Find("nobody")
		assert.ErrorIs(t, err, ErrUnknownDomain)
	})

	t.Run("UnregisterWaitsForLastReference", func(t *testing.T) {
		tbl := NewTable()
		_, err := tbl.Register("testclient")
		require.NoError(t, err)
		held, err := tbl.Find("testclient")
		require.NoError(t, err)

		tbl.Unregister("testclient")
		assert.Equal(t, []string{"testclient"}, tbl.Names())
		assert.Equal(t, "testclient", held.Name())

		held.Put()
		assert.Empty(t, tbl.Names())
	})
}

func TestCred(t *testing.T) {
	root := Cred{UID: 0, GID: 0, GIDs: []uint32{0, 10}}
	assert.True(t, root.IsRoot())

	squashed := root.Squash(65534, 65533)
	assert.False(t, squashed.IsRoot())
	assert.Equal(t, uint32(65534), squashed.UID)
	assert.Equal(t, uint32(65533), squashed.GID)
	assert.Empty(t, squashed.GIDs)
}
