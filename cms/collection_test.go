package cms

import (
	"testing"

	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientCollection(t *testing.T) {
	a, b, c := &Recipient{}, &Recipient{}, &Recipient{}
	rc, err := NewRecipientCollection(a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, rc.Count())

	require.NoError(t, rc.Insert(2, c))
	assert.Equal(t, 2, rc.IndexOf(c))
	assert.True(t, rc.Contains(b))

	removed, err := rc.Remove(b)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = rc.Remove(b)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 2, rc.Count())

	dst := make([]*Recipient, 3)
	require.NoError(t, rc.CopyTo(dst, 1))
	assert.Nil(t, dst[0])
	assert.Same(t, a, dst[1])
	assert.Same(t, c, dst[2])

	require.NoError(t, rc.RemoveRange([]*Recipient{a, c}))
	assert.Equal(t, 0, rc.Count())
}

func TestRecipientCollectionArgumentErrors(t *testing.T) {
	a := &Recipient{}
	rc, err := NewRecipientCollection(a)
	require.NoError(t, err)

	isRange := func(err error) bool {
		var e *cferr.Error
		return assert.ErrorAs(t, err, &e) && e.Reason() == cferr.OutOfRange
	}

	assert.True(t, cferr.IsArgument(rc.Add(nil)))
	_, err = rc.Remove(nil)
	assert.True(t, cferr.IsArgument(err))
	assert.True(t, cferr.IsArgument(rc.AddRange([]*Recipient{a, nil})))
	assert.Equal(t, 1, rc.Count(), "AddRange is all or nothing")
	assert.True(t, cferr.IsArgument(rc.CopyTo(nil, 0)))

	assert.True(t, isRange(rc.CopyTo(make([]*Recipient, 1), -1)))
	assert.True(t, isRange(rc.CopyTo(make([]*Recipient, 1), 1)))
	assert.True(t, isRange(rc.Insert(3, a)))
	assert.True(t, isRange(rc.RemoveAt(1)))
	_, err = rc.Get(-1)
	assert.True(t, isRange(err))
}
