package graph

// Edge is the minimal shape needed for reachability checks.
type Edge struct {
	From, To string
}

// Reachable reports whether to can be reached from from by following edges.
// A node always reaches itself.
func Reachable(edges []Edge, from, to string) bool {
	if from == to {
		return true
	}
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[n] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// WouldCycle reports whether adding from->to to edges closes a cycle.
func WouldCycle(edges []Edge, from, to string) bool {
	return Reachable(edges, to, from)
}
