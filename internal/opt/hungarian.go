package opt

import (
	"math"
	"time"
)

// Hungarian is the exact O(n³) solver: Kuhn-Munkres with row/column
// potentials (the Jonker-Volgenant formulation). The rectangular matrix is
// padded to a square with Sentinel costs; padded pairs are discarded from
// the output. A zero Deadline disables the time budget.
type Hungarian struct {
	Deadline time.Time
}

func (h Hungarian) Optimize(m Matrix) Result {
	rows, ok := h.solve(m)
	if !ok {
		// Caller (Solve) falls back on timeout; standalone use degrades to
		// greedy rather than returning nothing.
		return Greedy{}.Optimize(m)
	}
	return resultFromRows(m, rows, AlgoHungarian)
}

// solve returns row -> column assignments, or ok=false if the deadline
// expired mid-run.
func (h Hungarian) solve(m Matrix) ([]int, bool) {
	n := len(m.OrderIDs)
	cols := len(m.RiderIDs)
	if n == 0 || cols == 0 {
		return make([]int, n), true
	}
	dim := n
	if cols > dim {
		dim = cols
	}

	// Padded square copy keeps the augmenting-path loop free of bounds
	// special cases.
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < cols {
				c[i][j] = m.Cost[i][j]
			} else {
				c[i][j] = Sentinel
			}
		}
	}

	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		if !h.Deadline.IsZero() && time.Now().After(h.Deadline) {
			return nil, false
		}
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rows := make([]int, dim)
	for i := range rows {
		rows[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rows[p[j]-1] = j - 1
		}
	}
	return rows[:n], true
}
