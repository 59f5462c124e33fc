package engine

// CarryOver returns the expiring balance after moving from a tier granting oldGrant to one
// granting newGrant. Tokens already used this cycle (oldGrant minus what is left) are charged
// against the new grant. When the old grant is unknown nothing counts as used.
// The result is never negative.
func CarryOver(oldGrant int64, oldGrantKnown bool, expiring int64, newGrant int64) int64 {
	var used int64
	if oldGrantKnown {
		used = max(0, oldGrant-expiring)
	}
	return max(0, newGrant-used)
}
