package patch

import "sort"

// Diff compares before and after (both expected to be JSON-shaped values —
// map[string]interface{}, []interface{}, or scalar leaves) and returns the
// Patch that, applied to before, reproduces after. Diff returns an empty
// Patch iff before and after are structurally identical; this is the
// property kernel.ApplyCommand relies on to detect no-op commands.
func Diff(before, after interface{}) (Patch, error) {
	var p Patch
	diffInto(&p, nil, before, after)
	return p, nil
}

func diffInto(p *Patch, path []interface{}, before, after interface{}) {
	bm, bIsMap := before.(map[string]interface{})
	am, aIsMap := after.(map[string]interface{})
	if bIsMap && aIsMap {
		diffMaps(p, path, bm, am)
		return
	}

	bs, bIsSlice := before.([]interface{})
	as, aIsSlice := after.([]interface{})
	if bIsSlice && aIsSlice {
		diffSlices(p, path, bs, as)
		return
	}

	if !scalarEqual(before, after) {
		*p = append(*p, Op{Kind: KindSet, Path: clonePath(path), Value: after})
	}
}

func diffMaps(p *Patch, path []interface{}, before, after map[string]interface{}) {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		bv, bok := before[k]
		av, aok := after[k]
		switch {
		case bok && !aok:
			*p = append(*p, Op{Kind: KindDelete, Path: append(clonePath(path), k)})
		case !bok && aok:
			*p = append(*p, Op{Kind: KindSet, Path: append(clonePath(path), k), Value: av})
		default:
			diffInto(p, append(clonePath(path), k), bv, av)
		}
	}
}

func diffSlices(p *Patch, path []interface{}, before, after []interface{}) {
	// A full index-by-index structural diff; this is not a minimal-edit-
	// distance diff (no insert/move detection), matching the kernel's only
	// requirement: "empty iff no mutation", not "smallest possible patch".
	minLen := len(before)
	if len(after) < minLen {
		minLen = len(after)
	}
	for i := 0; i < minLen; i++ {
		diffInto(p, append(clonePath(path), i), before[i], after[i])
	}
	for i := minLen; i < len(after); i++ {
		*p = append(*p, Op{Kind: KindAppend, Path: clonePath(path), Value: after[i]})
	}
	for i := len(before) - 1; i >= minLen; i-- {
		*p = append(*p, Op{Kind: KindDelete, Path: append(clonePath(path), i)})
	}
}

func clonePath(path []interface{}) []interface{} {
	out := make([]interface{}, len(path))
	copy(out, path)
	return out
}

func scalarEqual(a, b interface{}) (eq bool) {
	// Scalars reaching this point have already been through serde
	// canonicalization upstream (see kernel.ApplyCommand), so a plain ==
	// comparison on comparable dynamic types is sufficient; uncomparable
	// types (e.g. another map/slice pair already handled above) fall
	// through to "not equal", which produces an (harmlessly redundant) Set.
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
