package masks

// Segmentation is one detector result: an entry per detector class, each a
// possibly empty list of instance masks ordered by descending score.
type Segmentation [][]*Mask

// Instances returns the masks for class index, or nil when the index is out of range.
func (s Segmentation) Instances(index int) []*Mask {
	if index < 0 || index >= len(s) {
		return nil
	}
	return s[index]
}

// First returns the highest scoring instance of class index.
func (s Segmentation) First(index int) (*Mask, bool) {
	inst := s.Instances(index)
	if len(inst) == 0 {
		return nil, false
	}
	return inst[0], true
}

// HasMaskForClasses reports whether every listed class has at least one
// instance. An index outside the segmentation counts as empty.
func HasMaskForClasses(seg Segmentation, indices []int) bool {
	for _, idx := range indices {
		if len(seg.Instances(idx)) == 0 {
			return false
		}
	}
	return true
}
