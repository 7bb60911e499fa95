package l4tracks

import "math"

// forbidden marks cost matrix entries the solver must never select.
const forbidden = 1e18

// HungarianAssign solves the rectangular assignment problem for an n×m
// cost matrix in O(n³). It returns assignments[i] = column for row i, or
// -1 when row i stays unassigned. Entries >= forbidden are never chosen.
//
// The tracking pass links with GreedyAssign; this solver only measures
// how far the greedy links are from the optimum.
func HungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	s := newMunkres(cost, n, m)
	for row := 1; row <= s.dim; row++ {
		s.augment(row)
	}
	for col := 1; col <= s.dim; col++ {
		row := s.colRow[col] - 1
		if row < 0 || row >= n || col-1 >= m || cost[row][col-1] >= forbidden {
			continue
		}
		result[row] = col - 1
	}
	return result
}

// munkres holds the dual potentials of a square, 1-indexed problem.
// Column 0 is the virtual root of every augmenting path.
type munkres struct {
	dim    int
	c      [][]float64
	rowPot []float64
	colPot []float64
	colRow []int // row matched to each column, 0 when free
	prev   []int // previous column on the augmenting path
	slack  []float64
	seen   []bool
}

func newMunkres(cost [][]float64, n, m int) *munkres {
	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			c[i][j] = forbidden
			if i < n && j < m {
				c[i][j] = cost[i][j]
			}
		}
	}
	return &munkres{
		dim:    dim,
		c:      c,
		rowPot: make([]float64, dim+1),
		colPot: make([]float64, dim+1),
		colRow: make([]int, dim+1),
		prev:   make([]int, dim+1),
		slack:  make([]float64, dim+1),
		seen:   make([]bool, dim+1),
	}
}

// augment adds row to the matching along a shortest augmenting path.
func (s *munkres) augment(row int) {
	const inf = math.MaxFloat64 / 2
	s.colRow[0] = row
	for j := range s.slack {
		s.slack[j] = inf
		s.seen[j] = false
	}

	col := 0
	for {
		s.seen[col] = true
		r := s.colRow[col]
		delta, next := inf, -1
		for j := 1; j <= s.dim; j++ {
			if s.seen[j] {
				continue
			}
			if reduced := s.c[r-1][j-1] - s.rowPot[r] - s.colPot[j]; reduced < s.slack[j] {
				s.slack[j] = reduced
				s.prev[j] = col
			}
			if s.slack[j] < delta {
				delta, next = s.slack[j], j
			}
		}
		if next < 0 {
			break
		}
		for j := 0; j <= s.dim; j++ {
			if s.seen[j] {
				s.rowPot[s.colRow[j]] += delta
				s.colPot[j] -= delta
			} else {
				s.slack[j] -= delta
			}
		}
		col = next
		if s.colRow[col] == 0 {
			break
		}
	}

	for col != 0 {
		p := s.prev[col]
		s.colRow[col] = s.colRow[p]
		col = p
	}
}

// optimalCost returns the total cost and link count of the optimal
// assignment over a sparse connection list.
func optimalCost(rows, cols int, conns []Connection) (float64, int) {
	if rows == 0 || cols == 0 || len(conns) == 0 {
		return 0, 0
	}
	cost := make([][]float64, rows)
	for i := range cost {
		cost[i] = make([]float64, cols)
		for j := range cost[i] {
			cost[i][j] = forbidden
		}
	}
	for _, c := range conns {
		cost[c.Row][c.Col] = c.Cost
	}

	total, links := 0.0, 0
	for i, j := range HungarianAssign(cost) {
		if j >= 0 {
			total += cost[i][j]
			links++
		}
	}
	return total, links
}
