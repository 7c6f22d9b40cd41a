package sync

// Missing returns how many addresses must be derived on a chain, starting
// at derivedCount, so that at least gapLimit unused addresses follow the
// frontier. A chain with no activity never grows past its initial batch.
func Missing(derivedCount uint32, frontier Frontier, gapLimit uint32) uint32 {
	if !frontier.Active || derivedCount < gapLimit {
		return 0
	}
	unusedTail := derivedCount - gapLimit
	if frontier.Index+1 <= unusedTail {
		return 0
	}
	return frontier.Index + 1 - unusedTail
}
