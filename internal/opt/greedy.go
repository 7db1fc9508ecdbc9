package opt

// Greedy assigns every order its cheapest feasible rider independently,
// without a uniqueness constraint on riders. This is the deliberate
// crisis-scale approximation: O(n·m), riders may be chosen repeatedly.
type Greedy struct{}

func (Greedy) Optimize(m Matrix) Result {
	rowAssign := make([]int, len(m.OrderIDs))
	for i := range m.OrderIDs {
		rowAssign[i] = -1
		best := Sentinel
		for j := range m.RiderIDs {
			if m.Cost[i][j] < best {
				best = m.Cost[i][j]
				rowAssign[i] = j
			}
		}
	}
	return resultFromRows(m, rowAssign, AlgoGreedy)
}
