package common

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMatrix(ids []DPID, links [][]int) *Matrix {
	index := make(map[DPID]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	return &Matrix{IDs: ids, Index: index, Links: links}
}

func TestMatrixEqual(t *testing.T) {
	a := newTestMatrix([]DPID{1, 2}, [][]int{{0, 1}, {1, 0}})
	b := newTestMatrix([]DPID{1, 2}, [][]int{{0, 1}, {1, 0}})
	c := newTestMatrix([]DPID{1, 2}, [][]int{{0, 1}, {Infinity, 0}})
	d := newTestMatrix([]DPID{1, 3}, [][]int{{0, 1}, {1, 0}})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "one cell differs")
	assert.False(t, a.Equal(d), "different switch set")
	assert.False(t, a.Equal(nil))

	var empty *Matrix
	assert.True(t, empty.Equal(nil))
}

func TestMatrixWeight(t *testing.T) {
	m := newTestMatrix([]DPID{1, 2, 3}, [][]int{
		{0, 1, Infinity},
		{1, 0, Infinity},
		{Infinity, Infinity, 0},
	})

	w, ok := m.Weight(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 1, w)

	w, ok = m.Weight(3, 3)
	assert.True(t, ok)
	assert.Equal(t, 0, w)

	w, ok = m.Weight(1, 3)
	assert.True(t, ok)
	assert.Equal(t, Infinity, w)

	_, ok = m.Weight(1, 9)
	assert.False(t, ok)

	assert.Equal(t, 2, m.LinkCount())
	assert.Equal(t, 3, m.Len())
}

func TestTopologyManagerPublish(t *testing.T) {
	tm := NewTopologyManager()
	assert.False(t, tm.IsInitialized())
	assert.Equal(t, uint64(0), tm.Current().Version)

	first := tm.Publish(&Snapshot{Switches: []DPID{1}})
	assert.Equal(t, uint64(1), first.Version)

	second := tm.Publish(&Snapshot{Switches: []DPID{1, 2}, PathsBuilt: true})
	assert.Equal(t, uint64(2), second.Version)
	assert.Same(t, second, tm.Current())
	assert.True(t, tm.IsInitialized())

	// the earlier snapshot is left untouched
	assert.Equal(t, []DPID{1}, first.Switches)
}

// fullSnapshot has a path entry for every ordered pair of its n switches
func fullSnapshot(n int) *Snapshot {
	snap := &Snapshot{Paths: make(PathTable), PathsBuilt: true}
	for i := 1; i <= n; i++ {
		snap.Switches = append(snap.Switches, DPID(i))
	}
	for _, src := range snap.Switches {
		for _, dst := range snap.Switches {
			if src != dst {
				snap.Paths[Pair{Src: src, Dst: dst}] = []Path{{src, dst}}
			}
		}
	}
	return snap
}

func TestTopologyManagerConcurrentReaders(t *testing.T) {
	tm := NewTopologyManager()
	tm.Publish(fullSnapshot(2))

	const rounds = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			tm.Publish(fullSnapshot(2 + i%5))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for i := 0; i < rounds; i++ {
				snap := tm.Current()
				n := len(snap.Switches)
				if !assert.Len(t, snap.Paths, n*(n-1), "snapshot v%d is inconsistent", snap.Version) {
					return
				}
				assert.GreaterOrEqual(t, snap.Version, last)
				last = snap.Version
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(rounds+1), tm.Current().Version)
}
