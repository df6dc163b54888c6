package property

import (
	"regexp"
	"slices"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Placeholders lists the distinct {{token}} names found in s.
func Placeholders(s string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	return names
}

// Substitute replaces every {{token}} in s that has a value in values.
// Tokens without a value are left in place and returned as unresolved.
func Substitute(s string, values map[string]string) (string, []string) {
	var unresolved []string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		if !slices.Contains(unresolved, name) {
			unresolved = append(unresolved, name)
		}
		return match
	})
	return out, unresolved
}

// Substitute applies placeholder substitution to every string carried by
// the value.
func (v Value) Substitute(values map[string]string) (Value, []string) {
	var unresolved []string
	apply := func(s string) string {
		out, missing := Substitute(s, values)
		for _, m := range missing {
			if !slices.Contains(unresolved, m) {
				unresolved = append(unresolved, m)
			}
		}
		return out
	}

	out := v.Clone()
	switch v.Type {
	case TypeString:
		out.Str = apply(v.Str)
	case TypeStringList:
		for i, s := range out.List {
			out.List[i] = apply(s)
		}
	case TypeStringMap:
		for k, s := range out.Map {
			out.Map[k] = apply(s)
		}
	}
	return out, unresolved
}

// Substitute applies placeholder substitution to every value in the bag.
func (b Bag) Substitute(values map[string]string) (Bag, []string) {
	out := make(Bag, len(b))
	var unresolved []string
	for _, k := range b.Keys() {
		v, missing := b[k].Substitute(values)
		out[k] = v
		for _, m := range missing {
			if !slices.Contains(unresolved, m) {
				unresolved = append(unresolved, m)
			}
		}
	}
	return out, unresolved
}
