package conversation

// Policy controls what a new turn handler inherits from its predecessor.
type Policy struct {
	// KeepLastN bounds the inherited items; 0 keeps everything.
	KeepLastN         int
	KeepSystem        bool
	KeepFunctionCalls bool
}

// DefaultPolicy keeps the last six non-system items including tool traffic.
func DefaultPolicy() Policy {
	return Policy{KeepLastN: 6, KeepFunctionCalls: true}
}

// Truncate filters items by policy and keeps the most recent KeepLastN of
// them. Function items left at the head after the cut are dropped so a result
// never appears without its call.
func Truncate(items []Item, policy Policy) []Item {
	kept := make([]Item, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if !policy.KeepSystem && it.Role == RoleSystem {
			continue
		}
		if !policy.KeepFunctionCalls && it.IsFunction() {
			continue
		}
		kept = append(kept, it)
		if policy.KeepLastN > 0 && len(kept) >= policy.KeepLastN {
			break
		}
	}
	reverse(kept)
	for len(kept) > 0 && kept[0].IsFunction() {
		kept = kept[1:]
	}
	return kept
}

// CarryOver builds the starting history of a handler: its own items, then the
// truncated predecessor items it does not already hold, then its instructions.
func CarryOver(prev, current []Item, instructions string, policy Policy) []Item {
	out := make([]Item, 0, len(current)+len(prev)+1)
	out = append(out, current...)
	seen := make(map[string]struct{}, len(out))
	for _, it := range out {
		seen[it.ID] = struct{}{}
	}
	for _, it := range Truncate(prev, policy) {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	if instructions != "" {
		out = append(out, System(instructions))
	}
	return out
}

// NonSystem returns the items that are not plain system messages.
func NonSystem(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Role != RoleSystem {
			out = append(out, it)
		}
	}
	return out
}

func reverse(items []Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
