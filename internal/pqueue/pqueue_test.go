package pqueue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intLess(a, b int) bool { return a < b }

func TestPushPopOrdering(t *testing.T) {
	q := New(intLess)

	rng := rand.New(rand.NewSource(42))
	input := rng.Perm(100)
	for _, v := range input {
		q.Push(v)
	}
	require.Equal(t, 100, q.Len())

	var got []int
	for {
		v, ok := q.PopMin()
		if !ok {
			break
		}
		got = append(got, v)
	}

	assert.True(t, sort.IntsAreSorted(got), "PopMin must drain in ascending order: %v", got)
	assert.Len(t, got, 100)
	assert.Equal(t, 0, q.Len())
}

func TestPopEmpty(t *testing.T) {
	q := New(intLess)
	_, ok := q.PopMin()
	assert.False(t, ok)
}

func TestDuplicatesAndTies(t *testing.T) {
	q := New(intLess)
	for _, v := range []int{3, 1, 3, 1, 2} {
		q.Push(v)
	}

	var got []int
	for {
		v, ok := q.PopMin()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 1, 2, 3, 3}, got)
}

func TestEachVisitsAll(t *testing.T) {
	q := New(intLess)
	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	seen := map[int]bool{}
	q.Each(func(v int) bool {
		seen[v] = true
		return true
	})
	assert.Len(t, seen, 10)

	// Early stop.
	count := 0
	q.Each(func(v int) bool {
		count++
		return count < 3
	})
	assert.Equal(t, 3, count)
}

func TestCloneIndependence(t *testing.T) {
	type item struct{ v int }
	q := New(func(a, b *item) bool { return a.v < b.v })
	q.Push(&item{v: 2})
	q.Push(&item{v: 1})

	clone := q.Clone(func(it *item) *item {
		cp := *it
		return &cp
	})

	got, ok := clone.PopMin()
	require.True(t, ok)
	got.v = 99

	orig, ok := q.PopMin()
	require.True(t, ok)
	assert.Equal(t, 1, orig.v, "clone must not share items with the original")
	assert.Equal(t, 2, q.Len()+1)
}
