package node

import (
	"testing"

	"github.com/jimkueneman/lcc-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateNeverFrees(t *testing.T) {
	reg := NewRegistry(2)
	n1 := reg.Allocate(0x01, config.Default(), nil)
	require.NotNil(t, n1)
	n2 := reg.Allocate(0x02, config.Default(), nil)
	require.NotNil(t, n2)
	assert.Equal(t, 2, reg.Len())

	n3 := reg.Allocate(0x03, config.Default(), nil)
	assert.Nil(t, n3, "registry at depth should refuse further allocation")
}

func TestFindByAliasAndNodeID(t *testing.T) {
	reg := NewRegistry(2)
	n1 := reg.Allocate(0x010203040506, config.Default(), nil)
	n1.SetAlias(0xBBB)

	assert.Same(t, n1, reg.FindByNodeID(0x010203040506))
	assert.Same(t, n1, reg.FindByAlias(0xBBB))
	assert.Nil(t, reg.FindByAlias(0x001))
}

func TestEnumerationCursorsAreIndependent(t *testing.T) {
	reg := NewRegistry(3)
	reg.Allocate(1, config.Default(), nil)
	reg.Allocate(2, config.Default(), nil)
	reg.Allocate(3, config.Default(), nil)

	first := reg.GetFirst(EnumeratorDispatch)
	assert.Equal(t, uint64(1), first.NodeID())

	// Advance a second, independent cursor without disturbing the first.
	otherFirst := reg.GetFirst(EnumeratorProtocolSupport)
	assert.Equal(t, uint64(1), otherFirst.NodeID())
	reg.GetNext(EnumeratorProtocolSupport)

	next := reg.GetNext(EnumeratorDispatch)
	assert.Equal(t, uint64(2), next.NodeID())
}

func TestEventListEnumeration(t *testing.T) {
	var l EventList
	l.Add(0x100)
	l.Add(0x200)
	l.ResetCursor()

	id, ok := l.Next()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x100), id)

	id, ok = l.Next()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x200), id)

	_, ok = l.Next()
	assert.False(t, ok)

	l.Remove(0x100)
	l.ResetCursor()
	id, ok = l.Next()
	assert.True(t, ok)
	assert.Equal(t, uint64(0x200), id)
}
