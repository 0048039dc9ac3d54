package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolveStaleHandle(t *testing.T) {
	r := NewRegistry()
	owner := NewOwnerID()

	gen := uint32(1)
	r.Register(owner, Resolver{
		Validate: func(index, generation uint32) bool {
			return index == 0 && generation == gen
		},
		Resolve: func(index, generation uint32) any {
			if index == 0 && generation == gen {
				return "alive"
			}
			return nil
		},
	})

	h := Handle{Owner: owner, Index: 0, Generation: gen, Type: TypeContract}
	require.True(t, r.IsValid(h))
	assert.Equal(t, "alive", r.Resolve(h))

	// Slot reused: generation bumps, old handle goes stale.
	gen = NextGeneration(gen)
	assert.False(t, r.IsValid(h))
	assert.Nil(t, r.Resolve(h))

	newHandle := Handle{Owner: owner, Index: 0, Generation: gen, Type: TypeContract}
	assert.True(t, r.IsValid(newHandle))
}

func TestRegistryUnregisterInvalidatesAllHandles(t *testing.T) {
	r := NewRegistry()
	owner := NewOwnerID()
	r.Register(owner, Resolver{
		Validate: func(uint32, uint32) bool { return true },
		Resolve:  func(uint32, uint32) any { return struct{}{} },
	})

	h := Handle{Owner: owner, Index: 3, Generation: 1}
	require.True(t, r.IsValid(h))

	r.Unregister(owner)
	assert.False(t, r.IsValid(h))
	assert.Nil(t, r.Resolve(h))
}

func TestZeroHandleNeverResolves(t *testing.T) {
	r := NewRegistry()
	var h Handle
	assert.True(t, h.Zero())
	assert.False(t, r.IsValid(h))
	assert.Nil(t, r.Resolve(h))
}

func TestHandleEqualsAndTypeMatches(t *testing.T) {
	a := Handle{Owner: 1, Index: 2, Generation: 3, Type: TypeGraphNode}
	b := Handle{Owner: 1, Index: 2, Generation: 3, Type: TypeGraphNode}
	c := Handle{Owner: 1, Index: 2, Generation: 4, Type: TypeGraphNode}

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
	assert.True(t, a.TypeMatches(TypeGraphNode))
	assert.False(t, a.TypeMatches(TypeContract))
}

func TestNextGenerationSkipsZero(t *testing.T) {
	assert.Equal(t, uint32(1), NextGeneration(0))
	assert.Equal(t, uint32(2), NextGeneration(1))
	assert.Equal(t, uint32(1), NextGeneration(^uint32(0)))
}

func TestWeakRefRevivalRace(t *testing.T) {
	type payload struct{ v int }
	p := &payload{v: 42}
	w := NewWeakRef(p)

	got, ok := w.Lock()
	require.True(t, ok)
	assert.Equal(t, 42, got.v)

	w.Release()
	assert.False(t, w.Alive())

	_, ok = w.Lock()
	assert.False(t, ok)
}
