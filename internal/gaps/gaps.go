// Package gaps computes the remaining-work set for an incremental run: the
// subset of requested timesteps not yet present in the persisted store. It
// is pure and performs no I/O; every pipeline stage checks its gap before
// touching the store, which is what makes repeated runs idempotent.
package gaps

import "time"

// Resolve returns the timesteps of target still to be computed given the
// persisted ones.
//
// With ordered=false (stateless work) the gap is simply target filtered to
// absent elements, in target order.
//
// With ordered=true (order-dependent aggregation chains) the gap is the
// whole suffix of target from the first absent element onward, even when
// later elements are individually persisted: the chain step must recompute
// everything after the first break to preserve continuity.
func Resolve(target []time.Time, persisted []time.Time, ordered bool) []time.Time {
	have := make(map[int64]struct{}, len(persisted))
	for _, t := range persisted {
		have[t.Unix()] = struct{}{}
	}

	if ordered {
		for i, t := range target {
			if _, ok := have[t.Unix()]; !ok {
				gap := make([]time.Time, len(target)-i)
				copy(gap, target[i:])
				return gap
			}
		}
		return nil
	}

	var gap []time.Time
	for _, t := range target {
		if _, ok := have[t.Unix()]; !ok {
			gap = append(gap, t)
		}
	}
	return gap
}
