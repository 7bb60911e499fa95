package l4tracks

import "sort"

// GreedyAssign accepts connections in ascending cost order, skipping any
// whose row or column has already been claimed. Equal costs keep their
// input order, so a fixed input always yields the same links. The result
// is not cost-optimal; see HungarianAssign for the optimum.
func GreedyAssign(conns []Connection) []Connection {
	sorted := append([]Connection(nil), conns...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cost < sorted[j].Cost })

	rows := make(map[int]bool)
	cols := make(map[int]bool)
	var accepted []Connection
	for _, c := range sorted {
		if rows[c.Row] || cols[c.Col] {
			continue
		}
		rows[c.Row] = true
		cols[c.Col] = true
		accepted = append(accepted, c)
	}
	return accepted
}
