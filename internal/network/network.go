// Package network models the travel graph between the market and the
// cauldrons and answers shortest travel times over it.
package network

import (
	"container/heap"
	"sort"

	"github.com/mbd888/potionwatch/internal/upstream"
)

// Graph is the undirected travel graph. Edges carry travel minutes;
// facilities missing from the edge list are kept as isolated nodes so
// they still show up, unreachable, in the matrix.
type Graph struct {
	nodes []string
	index map[string]int
	adj   [][]hop
}

type hop struct {
	to      int
	minutes float64
}

// New builds the graph for the given facilities. The market node leads
// the node order when present; cauldrons follow sorted by ID; endpoints
// that appear only in edges are appended after. Edges with unknown-empty
// names or negative travel times are dropped.
func New(market string, cauldronIDs []string, edges []upstream.Edge) *Graph {
	g := &Graph{index: make(map[string]int)}

	addNode := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := g.index[name]; ok {
			return i
		}
		g.index[name] = len(g.nodes)
		g.nodes = append(g.nodes, name)
		g.adj = append(g.adj, nil)
		return len(g.nodes) - 1
	}

	addNode(market)
	sorted := append([]string(nil), cauldronIDs...)
	sort.Strings(sorted)
	for _, id := range sorted {
		addNode(id)
	}

	extra := make(map[string]struct{})
	for _, e := range edges {
		if e.From != "" {
			if _, ok := g.index[e.From]; !ok {
				extra[e.From] = struct{}{}
			}
		}
		if e.To != "" {
			if _, ok := g.index[e.To]; !ok {
				extra[e.To] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		addNode(name)
	}

	for _, e := range edges {
		if e.TravelTimeMinutes < 0 {
			continue
		}
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		if !okFrom || !okTo || from == to {
			continue
		}
		g.adj[from] = append(g.adj[from], hop{to: to, minutes: e.TravelTimeMinutes})
		g.adj[to] = append(g.adj[to], hop{to: from, minutes: e.TravelTimeMinutes})
	}
	return g
}

// Nodes returns the node order the matrix rows use.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Matrix is the all-pairs travel time table. Minutes[i][j] is nil when
// node j cannot be reached from node i.
type Matrix struct {
	Nodes   []string     `json:"nodes"`
	Minutes [][]*float64 `json:"minutes"`
}

// Between looks up the travel time between two named facilities.
func (m Matrix) Between(from, to string) (float64, bool) {
	fi, ti := -1, -1
	for i, name := range m.Nodes {
		if name == from {
			fi = i
		}
		if name == to {
			ti = i
		}
	}
	if fi < 0 || ti < 0 || m.Minutes[fi][ti] == nil {
		return 0, false
	}
	return *m.Minutes[fi][ti], true
}

// TravelTimes computes shortest travel minutes between every pair of
// facilities, one Dijkstra pass per source.
func (g *Graph) TravelTimes() Matrix {
	m := Matrix{
		Nodes:   g.Nodes(),
		Minutes: make([][]*float64, len(g.nodes)),
	}
	for src := range g.nodes {
		m.Minutes[src] = g.shortestFrom(src)
	}
	return m
}

func (g *Graph) shortestFrom(src int) []*float64 {
	dist := make([]*float64, len(g.nodes))
	visited := make([]bool, len(g.nodes))

	pq := &minQueue{{node: src, minutes: 0}}
	zero := 0.0
	dist[src] = &zero

	for pq.Len() > 0 {
		item := heap.Pop(pq).(queued)
		if visited[item.node] {
			continue
		}
		visited[item.node] = true
		for _, h := range g.adj[item.node] {
			next := item.minutes + h.minutes
			if dist[h.to] == nil || next < *dist[h.to] {
				d := next
				dist[h.to] = &d
				heap.Push(pq, queued{node: h.to, minutes: next})
			}
		}
	}
	return dist
}

type queued struct {
	node    int
	minutes float64
}

type minQueue []queued

func (q minQueue) Len() int            { return len(q) }
func (q minQueue) Less(i, j int) bool  { return q[i].minutes < q[j].minutes }
func (q minQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x interface{}) { *q = append(*q, x.(queued)) }
func (q *minQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
