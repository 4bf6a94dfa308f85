package etl

// FilterNew returns the candidates whose natural key is not in existing,
// preserving their relative order. The result never aliases candidates.
func FilterNew[T Row](candidates []T, existing KeySet) []T {
	residue := make([]T, 0, len(candidates))
	for _, c := range candidates {
		if existing.Has(c.Key()) {
			continue
		}
		residue = append(residue, c)
	}
	return residue
}

// DistinctBy keeps the first row for each value of key, in input order.
func DistinctBy[T any, K comparable](rows []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(rows))
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// asRows widens a typed slice for Store.Append.
func asRows[T Row](rows []T) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
