// Package cfg computes structural control-flow-graph metrics for a single
// function: dominance, back edges, loop nesting, and per-block degrees.
package cfg

import (
	"sort"

	"binfeat/internal/disasm"
)

// UnreachableDepth is the dominator-depth sentinel for blocks that cannot
// be reached from the entry block. They stay in node-level output so the
// array-length invariant against the block count holds.
const UnreachableDepth = -1

// GraphLevel holds scalar CFG metrics for one function.
type GraphLevel struct {
	BlockCount int `json:"block_count"`
	EdgeCount  int `json:"edge_count"`
	Cyclomatic int `json:"cyclomatic_complexity"`
	LoopDepth  int `json:"loop_depth"`
	BackEdges  int `json:"back_edge_count"`
}

// NodeLevel is the per-block metric vector, ordered by block discovery order.
type NodeLevel struct {
	Address   string `json:"address"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
	Size      int    `json:"size"`
	DomDepth  int    `json:"dom_depth"`
}

// EdgeLevel describes one edge of the function's CFG.
type EdgeLevel struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Kind     string `json:"kind"`
	BackEdge bool   `json:"back_edge"`
}

// Result bundles the three metric levels for one function.
type Result struct {
	Graph GraphLevel  `json:"graph_level"`
	Nodes []NodeLevel `json:"node_level"`
	Edges []EdgeLevel `json:"edge_level"`
}

// Analyze computes all CFG metrics for a normalized function. The result is
// deterministic: dominance ties are broken by block address ascending.
func Analyze(fn *disasm.Function) Result {
	n := len(fn.Blocks)
	res := Result{
		Graph: GraphLevel{BlockCount: n, EdgeCount: len(fn.Edges)},
		Nodes: make([]NodeLevel, 0, n),
		Edges: make([]EdgeLevel, 0, len(fn.Edges)),
	}
	if n == 0 {
		return res
	}
	// Cyclomatic complexity E - N + 2 for a single connected component.
	res.Graph.Cyclomatic = len(fn.Edges) - n + 2

	idx := make(map[uint64]int, n)
	for i, b := range fn.Blocks {
		idx[b.Start] = i
	}

	succs := make([][]int, n)
	preds := make([][]int, n)
	inDeg := make([]int, n)
	outDeg := make([]int, n)
	for _, e := range fn.Edges {
		from, to := idx[e.From], idx[e.To]
		succs[from] = append(succs[from], to)
		preds[to] = append(preds[to], from)
		outDeg[from]++
		inDeg[to]++
	}
	// Deterministic traversal order regardless of edge declaration order.
	for i := range succs {
		s := succs[i]
		sort.Slice(s, func(a, b int) bool { return fn.Blocks[s[a]].Start < fn.Blocks[s[b]].Start })
	}

	entry := entryBlock(fn)
	idom := dominators(fn, succs, preds, entry)

	depth := make([]int, n)
	for i := range depth {
		depth[i] = UnreachableDepth
	}
	depth[entry] = 0
	// idom chains are acyclic, so depths resolve in at most n passes.
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			if i == entry || idom[i] < 0 || depth[i] != UnreachableDepth {
				continue
			}
			if d := depth[idom[i]]; d != UnreachableDepth {
				depth[i] = d + 1
				changed = true
			}
		}
	}

	for i, b := range fn.Blocks {
		res.Nodes = append(res.Nodes, NodeLevel{
			Address:   disasm.FormatAddr(b.Start),
			InDegree:  inDeg[i],
			OutDegree: outDeg[i],
			Size:      b.Size(),
			DomDepth:  depth[i],
		})
	}

	backEdges := make(map[[2]int]bool)
	for _, e := range fn.Edges {
		from, to := idx[e.From], idx[e.To]
		back := dominates(idom, entry, to, from) && depth[from] != UnreachableDepth
		if back {
			res.Graph.BackEdges++
			backEdges[[2]int{from, to}] = true
		}
		res.Edges = append(res.Edges, EdgeLevel{
			From:     disasm.FormatAddr(e.From),
			To:       disasm.FormatAddr(e.To),
			Kind:     e.Kind.String(),
			BackEdge: back,
		})
	}

	res.Graph.LoopDepth = loopDepth(n, preds, backEdges)
	return res
}

// entryBlock finds the block containing the function's start address,
// falling back to the lowest-addressed block.
func entryBlock(fn *disasm.Function) int {
	lowest := 0
	for i, b := range fn.Blocks {
		if fn.Addr >= b.Start && fn.Addr < b.End {
			return i
		}
		if b.Start < fn.Blocks[lowest].Start {
			lowest = i
		}
	}
	return lowest
}

// dominators runs the iterative dataflow algorithm of Cooper, Harvey and
// Kennedy over a reverse postorder of the reachable blocks. Unreachable
// blocks keep an immediate dominator of -1.
func dominators(fn *disasm.Function, succs, preds [][]int, entry int) []int {
	n := len(fn.Blocks)
	post := make([]int, 0, n)
	order := make([]int, n) // postorder number, -1 = unreachable
	for i := range order {
		order[i] = -1
	}
	visited := make([]bool, n)
	var dfs func(int)
	dfs = func(u int) {
		visited[u] = true
		for _, v := range succs[u] {
			if !visited[v] {
				dfs(v)
			}
		}
		order[u] = len(post)
		post = append(post, u)
	}
	dfs(entry)

	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}
	idom[entry] = entry

	intersect := func(a, b int) int {
		for a != b {
			for order[a] < order[b] {
				a = idom[a]
			}
			for order[b] < order[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		// Reverse postorder, entry excluded.
		for i := len(post) - 1; i >= 0; i-- {
			u := post[i]
			if u == entry {
				continue
			}
			newIdom := -1
			for _, p := range preds[u] {
				if order[p] == -1 || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[u] != newIdom {
				idom[u] = newIdom
				changed = true
			}
		}
	}
	idom[entry] = -1
	return idom
}

// dominates reports whether block a dominates block b.
func dominates(idom []int, entry, a, b int) bool {
	if a == b {
		return true
	}
	for b != entry && idom[b] >= 0 {
		b = idom[b]
		if b == a {
			return true
		}
	}
	return a == entry && b == entry
}

// loopDepth returns the maximum natural-loop nesting depth. Each back edge
// s->t induces the loop of blocks that reach s without passing through t;
// loops sharing a header are merged before counting.
func loopDepth(n int, preds [][]int, backEdges map[[2]int]bool) int {
	loops := make(map[int]map[int]bool) // header -> member set
	for be := range backEdges {
		s, t := be[0], be[1]
		body := loops[t]
		if body == nil {
			body = map[int]bool{t: true}
			loops[t] = body
		}
		stack := []int{s}
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if body[u] {
				continue
			}
			body[u] = true
			stack = append(stack, preds[u]...)
		}
	}
	max := 0
	for b := 0; b < n; b++ {
		d := 0
		for _, body := range loops {
			if body[b] {
				d++
			}
		}
		if d > max {
			max = d
		}
	}
	return max
}
