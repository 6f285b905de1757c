package common

// Matrix is the switch adjacency matrix.
// Links[i][j] is 0 on the diagonal, 1 when IDs[i] has a direct link to IDs[j], Infinity otherwise.
type Matrix struct {
	IDs   []DPID       `json:"ids"`
	Index map[DPID]int `json:"-"`
	Links [][]int      `json:"links"`
}

// Len returns the number of switches in the matrix
func (m *Matrix) Len() int {
	if m == nil {
		return 0
	}
	return len(m.IDs)
}

// Weight returns the weight between two switches, and false when either is unknown
func (m *Matrix) Weight(src, dst DPID) (int, bool) {
	if m == nil {
		return Infinity, false
	}
	i, ok := m.Index[src]
	if !ok {
		return Infinity, false
	}
	j, ok := m.Index[dst]
	if !ok {
		return Infinity, false
	}
	return m.Links[i][j], true
}

// LinkCount returns the number of directed links (cells equal to 1)
func (m *Matrix) LinkCount() int {
	if m == nil {
		return 0
	}
	count := 0
	for i := range m.Links {
		for j := range m.Links[i] {
			if m.Links[i][j] == 1 {
				count++
			}
		}
	}
	return count
}

// Equal reports whether two matrices hold the same switches and weights
func (m *Matrix) Equal(other *Matrix) bool {
	if m == nil || other == nil {
		return m == nil && other == nil
	}
	if len(m.IDs) != len(other.IDs) {
		return false
	}
	for i := range m.IDs {
		if m.IDs[i] != other.IDs[i] {
			return false
		}
	}
	for i := range m.Links {
		if len(m.Links[i]) != len(other.Links[i]) {
			return false
		}
		for j := range m.Links[i] {
			if m.Links[i][j] != other.Links[i][j] {
				return false
			}
		}
	}
	return true
}
