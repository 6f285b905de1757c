package topology

import (
	"sort"

	"pathfinder/common"
)

// BuildMatrix builds the adjacency matrix for the given switches and directed links.
// Links touching unknown switches are ignored, and direction is kept as reported.
func BuildMatrix(switches []common.DPID, links []common.Link) *common.Matrix {
	ids := make([]common.DPID, 0, len(switches))
	index := make(map[common.DPID]int, len(switches))
	seen := make(map[common.DPID]bool, len(switches))
	for _, id := range switches {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		index[id] = i
	}

	weights := make([][]int, len(ids))
	for i := range weights {
		weights[i] = make([]int, len(ids))
		for j := range weights[i] {
			weights[i][j] = common.Infinity
		}
		weights[i][i] = 0
	}

	for _, link := range links {
		i, srcExists := index[link.Src.DPID]
		j, dstExists := index[link.Dst.DPID]
		if !srcExists || !dstExists || i == j {
			continue
		}
		weights[i][j] = 1
	}

	return &common.Matrix{
		IDs:   ids,
		Index: index,
		Links: weights,
	}
}
