package grid

// Summary holds the extremes of a frame and the integer average of
// its samples.
type Summary struct {
	Min, Max     uint16
	MinAt, MaxAt Node
	Avg          int
	Nodes        int
}

// Stats computes the summary of f in a single pass, skipping nodes in
// invalid. If every node is excluded, all nodes are used.
func Stats(f *Frame, invalid NodeSet) Summary {
	s, ok := stats(f, invalid)
	if !ok {
		s, _ = stats(f, NodeSet{})
	}
	return s
}

func stats(f *Frame, invalid NodeSet) (Summary, bool) {
	s := Summary{}
	sum := 0
	for r := range f.Rows {
		for c := range f.Cols {
			if invalid.Contains(r, c) {
				continue
			}
			v := f.At(r, c)
			if s.Nodes == 0 || v < s.Min {
				s.Min, s.MinAt = v, Node{r, c}
			}
			if s.Nodes == 0 || v > s.Max {
				s.Max, s.MaxAt = v, Node{r, c}
			}
			sum += int(v)
			s.Nodes++
		}
	}
	if s.Nodes == 0 {
		return s, false
	}
	s.Avg = sum / s.Nodes
	return s, true
}
