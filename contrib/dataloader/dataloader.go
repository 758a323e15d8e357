// Package dataloader holds the generic helpers behind batched relation
// loads: the keys of many owners are deduplicated and split into chunks,
// one query runs per chunk, and the rows are grouped back by key.
//
//	for _, ids := range dataloader.Chunk(dataloader.Unique(orderIDs), 500) {
//		items, _ := sess.Query("line_items").
//			Where(sql.In(sql.C("line_items", "order_id"), ids...)).
//			All(ctx)
//		byOrder := dataloader.GroupByKey(items, func(e *orm.Entity) any { return e.Get("order_id") })
//		lists := dataloader.Collect(ids, byOrder)
//	}
package dataloader

import "errors"

// ErrNotFound marks a key of Resolve with no matching value.
var ErrNotFound = errors.New("vellum/dataloader: no value for key")

// KeyFunc returns the key of a value.
type KeyFunc[K comparable, V any] func(V) K

// Resolve returns, for every key, the value of values carrying it. Keys
// without a value get the zero value and ErrNotFound at the same index;
// the error slice is nil when every key was found.
func Resolve[K comparable, V any](keys []K, values []V, key KeyFunc[K, V]) ([]V, []error) {
	byKey := make(map[K]V, len(values))
	for _, v := range values {
		byKey[key(v)] = v
	}
	out := make([]V, len(keys))
	var errs []error
	for i, k := range keys {
		v, ok := byKey[k]
		if !ok {
			if errs == nil {
				errs = make([]error, len(keys))
			}
			errs[i] = ErrNotFound
			continue
		}
		out[i] = v
	}
	return out, errs
}

// GroupByKey buckets values by key. Values keep their relative order
// inside a bucket.
func GroupByKey[K comparable, V any](values []V, key KeyFunc[K, V]) map[K][]V {
	groups := make(map[K][]V)
	for _, v := range values {
		k := key(v)
		groups[k] = append(groups[k], v)
	}
	return groups
}

// Collect lays groups out in the order of keys. A key without a group
// gets a nil slice.
func Collect[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	out := make([][]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

// Unique drops repeated keys. The first occurrence wins.
func Unique[K comparable](keys []K) []K {
	seen := make(map[K]bool, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Chunk splits keys into batches of at most size keys. A size of zero or
// less keeps them in one batch.
func Chunk[K any](keys []K, size int) [][]K {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(keys)
	}
	var chunks [][]K
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		chunks = append(chunks, keys[start:end:end])
	}
	return chunks
}
