package grid

// Node is a sensor node in displayed coordinates.
type Node struct {
	Row, Col int
}

// Pack encodes a node as col<<16 | row, the form used by calibration
// tables for excluded nodes.
func Pack(row, col int) uint32 {
	return uint32(col)<<16 | uint32(row)&0xffff
}

func Unpack(v uint32) Node {
	return Node{Row: int(v & 0xffff), Col: int(v >> 16)}
}

// NodeSet is a set of nodes excluded from validation and statistics.
// The zero value is an empty set.
type NodeSet struct {
	m map[uint32]struct{}
}

func NewNodeSet(nodes ...Node) NodeSet {
	s := NodeSet{}
	for _, n := range nodes {
		s.Add(n.Row, n.Col)
	}
	return s
}

func (s *NodeSet) Add(row, col int) {
	if s.m == nil {
		s.m = make(map[uint32]struct{})
	}
	s.m[Pack(row, col)] = struct{}{}
}

func (s NodeSet) Contains(row, col int) bool {
	_, ok := s.m[Pack(row, col)]
	return ok
}

func (s NodeSet) Len() int {
	return len(s.m)
}
