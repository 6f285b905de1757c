package routing

import (
	"sort"
	"sync"

	"pathfinder/common"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

// PathTableBuilder computes all minimal-hop paths between every ordered switch pair.
// Searches from different sources run concurrently on the pool when one is set.
type PathTableBuilder struct {
	pool *ants.Pool
}

func NewPathTableBuilder(pool *ants.Pool) *PathTableBuilder {
	return &PathTableBuilder{pool: pool}
}

// BuildPathTable builds the table sequentially
func BuildPathTable(matrix *common.Matrix) common.PathTable {
	return NewPathTableBuilder(nil).Build(matrix)
}

// Build returns a fresh table for the matrix. Every pair (i, j), i != j, has an entry;
// unreachable pairs map to an empty slice.
func (b *PathTableBuilder) Build(matrix *common.Matrix) common.PathTable {
	n := matrix.Len()
	table := make(common.PathTable, n*(n-1))
	if n == 0 {
		return table
	}

	var mu sync.Mutex
	collect := func(source int) {
		results := shortestPathsFrom(matrix, source)
		mu.Lock()
		defer mu.Unlock()
		for dest, paths := range results {
			if dest == source {
				continue
			}
			table[common.Pair{Src: matrix.IDs[source], Dst: matrix.IDs[dest]}] = paths
		}
	}

	if b.pool == nil {
		for source := 0; source < n; source++ {
			collect(source)
		}
		return table
	}

	var wg sync.WaitGroup
	for source := 0; source < n; source++ {
		wg.Add(1)
		src := source
		err := b.pool.Submit(func() {
			defer wg.Done()
			collect(src)
		})
		if err != nil {
			log.Warningf("Build, failed to submit search for switch %v, running inline, err: %v", matrix.IDs[src], err)
			wg.Done()
			collect(src)
		}
	}
	wg.Wait()

	log.Debugf("Build, switch num: %d, pair num: %d", n, len(table))
	return table
}

// shortestPathsFrom runs a breadth-first search from source keeping every predecessor that
// reaches a node at its minimal hop count, then enumerates the paths to every node.
func shortestPathsFrom(matrix *common.Matrix, source int) [][]common.Path {
	n := matrix.Len()
	hops := make([]int, n) // hop count from source, -1 means not reached
	for i := range hops {
		hops[i] = -1
	}
	hops[source] = 0

	predecessors := make([][]int, n)
	queue := []int{source}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for next := 0; next < n; next++ {
			if matrix.Links[node][next] != 1 {
				continue
			}
			switch {
			case hops[next] < 0:
				hops[next] = hops[node] + 1
				predecessors[next] = []int{node}
				queue = append(queue, next)
			case hops[next] == hops[node]+1:
				predecessors[next] = append(predecessors[next], node)
			}
		}
	}

	results := make([][]common.Path, n)
	for dest := 0; dest < n; dest++ {
		if dest == source {
			continue
		}
		if hops[dest] < 0 {
			results[dest] = []common.Path{}
			continue
		}
		results[dest] = findPaths(matrix.IDs, dest, source, predecessors)
	}
	return results
}

func findPaths(ids []common.DPID, node int, source int, predecessors [][]int) []common.Path {
	paths := []common.Path{}

	stack := []int{node}
	var find func()
	find = func() {
		top := stack[len(stack)-1]
		if top == source { // a complete path, stored source first
			path := make(common.Path, 0, len(stack))
			for i := len(stack) - 1; i >= 0; i-- {
				path = append(path, ids[stack[i]])
			}
			paths = append(paths, path)
			return
		}
		for _, predecessor := range predecessors[top] {
			stack = append(stack, predecessor)
			find()
			stack = stack[:len(stack)-1]
		}
	}
	find()

	sort.Slice(paths, func(i, j int) bool { return lessPath(paths[i], paths[j]) })
	return paths
}

func lessPath(a, b common.Path) bool {
	for k := 0; k < len(a) && k < len(b); k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return len(a) < len(b)
}
