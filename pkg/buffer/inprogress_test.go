package buffer

import (
	"testing"

	"github.com/jimkueneman/lcc-go/pkg/mti"
	"github.com/stretchr/testify/assert"
)

func TestInProgressAddFindRelease(t *testing.T) {
	idx := NewInProgressIndex(4)
	store := NewStore(testDepths())
	msg := store.Allocate(Datagram)

	assert.Nil(t, idx.Find(0xAAA, 0xBBB, mti.Datagram))
	idx.Add(0xAAA, 0xBBB, mti.Datagram, msg)
	assert.Same(t, msg, idx.Find(0xAAA, 0xBBB, mti.Datagram))

	idx.Release(0xAAA, 0xBBB, mti.Datagram)
	assert.Nil(t, idx.Find(0xAAA, 0xBBB, mti.Datagram))
}

func TestInProgressAddExistingPanics(t *testing.T) {
	idx := NewInProgressIndex(4)
	store := NewStore(testDepths())
	msg := store.Allocate(Datagram)
	idx.Add(0xAAA, 0xBBB, mti.Datagram, msg)

	assert.Panics(t, func() {
		idx.Add(0xAAA, 0xBBB, mti.Datagram, msg)
	})
}
