package property

import "slices"

// Bag is a named set of typed values. Key order is irrelevant.
type Bag map[string]Value

// Clone returns a deep copy. A nil bag clones to an empty bag.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v.Clone()
	}
	return out
}

// Merge returns a copy of b with every entry of update applied on top.
func (b Bag) Merge(update Bag) Bag {
	out := b.Clone()
	for k, v := range update {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports whether both bags hold the same names and values.
func (b Bag) Equal(o Bag) bool {
	if len(b) != len(o) {
		return false
	}
	for k, v := range b {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// GetString returns the named string property or "".
func (b Bag) GetString(name string) string {
	if v, ok := b[name]; ok && v.Type == TypeString {
		return v.Str
	}
	return ""
}

// Keys returns the property names in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
