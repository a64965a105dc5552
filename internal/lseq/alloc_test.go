package lseq

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertStrictlyBetween(t *testing.T, left, k, right Key) {
	t.Helper()
	require.True(t, k.Valid(), "allocated key %v is malformed", k)
	if left != nil {
		assert.Negative(t, Compare(left, k), "%v should sort before %v", left, k)
	}
	if right != nil {
		assert.Negative(t, Compare(k, right), "%v should sort before %v", k, right)
	}
}

func TestBetweenEmpty(t *testing.T) {
	a := NewSeededAllocator(1)
	k, err := a.Between(nil, nil)
	require.NoError(t, err)
	require.Len(t, k, 1)
	assert.GreaterOrEqual(t, k[0], 1)
	assert.Less(t, k[0], 1+Boundary)
}

func TestBetweenKnownIntervals(t *testing.T) {
	a := NewSeededAllocator(7)
	intervals := []struct{ left, right Key }{
		{nil, Key{5}},
		{Key{5}, nil},
		{Key{3}, Key{3, 1}},
		{Key{3}, Key{4}},
		{Key{3, 7}, Key{4}},
		{Key{15}, nil},
		{nil, Key{1}},
		{nil, Key{0, 5}},
		{Key{0, 0, 9}, Key{0, 1}},
		{Key{1, 31}, Key{2}},
	}
	for _, iv := range intervals {
		for i := 0; i < 50; i++ {
			k, err := a.Between(iv.left, iv.right)
			require.NoError(t, err, "(%v, %v)", iv.left, iv.right)
			assertStrictlyBetween(t, iv.left, k, iv.right)
		}
	}
}

func TestBetweenAdjacentDigitsGoesDeeper(t *testing.T) {
	a := NewSeededAllocator(3)
	k, err := a.Between(Key{3}, Key{4})
	require.NoError(t, err)
	require.Len(t, k, 2)
	assert.Equal(t, 3, k[0])
}

func TestBetweenRejectsBackwardsInterval(t *testing.T) {
	a := NewSeededAllocator(1)

	_, err := a.Between(Key{5}, Key{5})
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	_, err = a.Between(Key{6}, Key{5})
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	_, err = a.Between(Key{}, nil)
	assert.True(t, errors.Is(err, ErrInvalidInterval))
}

func TestBetweenRejectsEmptyInterval(t *testing.T) {
	a := NewSeededAllocator(1)

	_, err := a.Between(Key{3}, Key{3, 0})
	assert.True(t, errors.Is(err, ErrEmptyInterval))

	_, err = a.Between(nil, Key{0})
	assert.True(t, errors.Is(err, ErrEmptyInterval))
}

func TestAppendChainStaysSorted(t *testing.T) {
	a := NewSeededAllocator(42)
	var keys []Key
	var prev Key
	for i := 0; i < 500; i++ {
		k, err := a.Between(prev, nil)
		require.NoError(t, err)
		assertStrictlyBetween(t, prev, k, nil)
		keys = append(keys, k)
		prev = k
	}
	assert.True(t, slices.IsSortedFunc(keys, Compare))
}

func TestRepeatedInsertAtFrontAndMiddle(t *testing.T) {
	a := NewSeededAllocator(99)
	keys := []Key{}

	first, err := a.Between(nil, nil)
	require.NoError(t, err)
	keys = append(keys, first)

	for i := 0; i < 300; i++ {
		var left, right Key
		switch i % 3 {
		case 0: // front
			right = keys[0]
			k, err := a.Between(left, right)
			require.NoError(t, err)
			assertStrictlyBetween(t, left, k, right)
			keys = slices.Insert(keys, 0, k)
		case 1: // middle
			if len(keys) < 2 {
				continue
			}
			mid := len(keys) / 2
			left, right = keys[mid-1], keys[mid]
			k, err := a.Between(left, right)
			require.NoError(t, err)
			assertStrictlyBetween(t, left, k, right)
			keys = slices.Insert(keys, mid, k)
		default: // back
			left = keys[len(keys)-1]
			k, err := a.Between(left, nil)
			require.NoError(t, err)
			assertStrictlyBetween(t, left, k, right)
			keys = append(keys, k)
		}
	}
	assert.True(t, slices.IsSortedFunc(keys, Compare))
}

func TestSeededAllocatorIsDeterministic(t *testing.T) {
	a := NewSeededAllocator(5)
	b := NewSeededAllocator(5)
	for i := 0; i < 20; i++ {
		ka, err := a.Between(Key{2}, Key{9, 4})
		require.NoError(t, err)
		kb, err := b.Between(Key{2}, Key{9, 4})
		require.NoError(t, err)
		assert.Equal(t, ka, kb)
	}
}

func TestConcurrentAllocationsUsuallyDiffer(t *testing.T) {
	// Two replicas inserting between the same neighbours pick from the same
	// window; with 20 slots the chance of a collision on any given draw is
	// 1/20, so over many draws most pairs must differ.
	a := NewSeededAllocator(11)
	b := NewSeededAllocator(12)
	distinct := 0
	for i := 0; i < 200; i++ {
		ka, err := a.Between(Key{1}, nil)
		require.NoError(t, err)
		kb, err := b.Between(Key{1}, nil)
		require.NoError(t, err)
		if !ka.Equal(kb) {
			distinct++
		}
	}
	assert.Greater(t, distinct, 150)
}
