// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package patch

// Sort orders patches for execution. Before and After constraints naming
// owners present in the list are honoured first; remaining ties go to the
// higher priority, then to the earlier registration. A patch that names a
// present owner in Before is preferred over unconstrained patches as soon
// as it is free to run. Cycles are broken by taking the best remaining
// patch regardless of its constraints.
func Sort(patches []*Patch) []*Patch {
	n := len(patches)
	if n < 2 {
		return append([]*Patch(nil), patches...)
	}

	byOwner := map[string][]int{}
	for i, p := range patches {
		byOwner[p.Owner] = append(byOwner[p.Owner], i)
	}

	succ := make([][]int, n)
	indeg := make([]int, n)
	tier := make([]int, n)
	edge := func(from, to int) {
		if from == to {
			return
		}
		succ[from] = append(succ[from], to)
		indeg[to]++
	}
	for i, p := range patches {
		tier[i] = 1
		for _, o := range p.After {
			if others, ok := byOwner[o]; ok {
				for _, j := range others {
					edge(j, i)
				}
				tier[i] = 2
			}
		}
		for _, o := range p.Before {
			if others, ok := byOwner[o]; ok {
				for _, j := range others {
					edge(i, j)
				}
				tier[i] = 0
			}
		}
	}

	less := func(a, b int) bool {
		if tier[a] != tier[b] {
			return tier[a] < tier[b]
		}
		pa, pb := patches[a], patches[b]
		if pa.Priority != pb.Priority {
			return pa.Priority > pb.Priority
		}
		if pa.Index != pb.Index {
			return pa.Index < pb.Index
		}
		return a < b
	}

	done := make([]bool, n)
	out := make([]*Patch, 0, n)
	for len(out) < n {
		best := -1
		for i := 0; i < n; i++ {
			if done[i] || indeg[i] > 0 {
				continue
			}
			if best < 0 || less(i, best) {
				best = i
			}
		}
		if best < 0 {
			for i := 0; i < n; i++ {
				if !done[i] && (best < 0 || less(i, best)) {
					best = i
				}
			}
		}
		done[best] = true
		out = append(out, patches[best])
		for _, j := range succ[best] {
			indeg[j]--
		}
	}
	return out
}

// hooksOf strips the registration data from sorted patches.
func hooksOf(patches []*Patch) []*Hook {
	out := make([]*Hook, len(patches))
	for i, p := range patches {
		out[i] = p.Hook
	}
	return out
}
