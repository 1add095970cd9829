package results

// PathTree is the compact projection of the set of heap-graph paths
// reaching known leak roots, used as the argument to the page-side
// window.$$$INSTRUMENT_PATHS$$$ hook (spec.md §4.6 step 2, §9 "Path tree").
// Path prefixes shared by multiple roots (or multiple paths of one root)
// are merged into one tree so the instrumentation only walks the page object
// graph once per shared prefix. The exact shape is an external contract with
// the page-side instrumentation layer and must round-trip (spec.md §9).
type PathTree struct {
	Children map[string]*PathTree `json:"children,omitempty"`
	// RootIDs lists the leak roots reachable by the path ending at this
	// node (a node may terminate more than one root's path).
	RootIDs []int `json:"rootIds,omitempty"`
}

func newNode() *PathTree { return &PathTree{Children: map[string]*PathTree{}} }

// ToPathTree merges every leak root's heap-graph paths into one compact
// prefix tree.
func ToPathTree(leakRoots []LeakRoot) *PathTree {
	root := newNode()
	for _, lr := range leakRoots {
		for _, path := range lr.Paths {
			insert(root, path, lr.ID)
		}
	}
	return root
}

func insert(node *PathTree, path HeapPath, rootID int) {
	cur := node
	for _, seg := range path {
		next, ok := cur.Children[seg]
		if !ok {
			next = newNode()
			cur.Children[seg] = next
		}
		cur = next
	}
	cur.RootIDs = appendUniqueInt(cur.RootIDs, rootID)
}

func appendUniqueInt(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
