package session

// diffByID computes the symmetric difference of two session snapshots by
// session ID. Sessions present in cur but not in prev are added; sessions
// present in prev but not in cur are removed. A session whose ID appears
// in both snapshots is never reported, even if its other fields differ.
//
// The function is pure: it reads both snapshots and touches no shared
// state, so reconciliation runs can overlap safely.
func diffByID(prev, cur []Session) (added, removed []Session) {
	prevIDs := make(map[string]struct{}, len(prev))
	for _, s := range prev {
		prevIDs[s.ID] = struct{}{}
	}
	curIDs := make(map[string]struct{}, len(cur))
	for _, s := range cur {
		curIDs[s.ID] = struct{}{}
	}

	for _, s := range cur {
		if _, ok := prevIDs[s.ID]; !ok {
			added = append(added, s)
		}
	}
	for _, s := range prev {
		if _, ok := curIDs[s.ID]; !ok {
			removed = append(removed, s)
		}
	}
	return added, removed
}
