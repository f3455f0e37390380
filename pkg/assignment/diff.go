package assignment

import (
	"sort"
)

// Diff returns the accounts to add (current minus initial) and to remove
// (initial minus current). Duplicates collapse and both lists are sorted.
func Diff(initial, current []string) BatchDiff {
	initialSet := toSet(initial)
	currentSet := toSet(current)

	return BatchDiff{
		ToAdd:    minus(currentSet, initialSet),
		ToRemove: minus(initialSet, currentSet),
	}
}

// DetectConflicts returns one record per account of toAdd that currently holds
// a profile other than target, in toAdd order. Accounts without a profile, or
// missing from populationByID, are never conflicts. The result is never nil.
func DetectConflicts(toAdd []string, populationByID map[string]Account, target string) []ConflictRecord {
	conflicts := []ConflictRecord{}
	for _, id := range toAdd {
		account, ok := populationByID[id]
		if !ok || account.ProfileCode == nil || *account.ProfileCode == target {
			continue
		}
		conflicts = append(conflicts, ConflictRecord{
			UserID:             id,
			CurrentProfileCode: *account.ProfileCode,
			TargetProfileCode:  target,
		})
	}
	return conflicts
}

// Chunk splits ids into consecutive slices of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// minus returns the sorted members of a that are not in b
func minus(a, b map[string]struct{}) []string {
	out := []string{}
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// normalize returns ids sorted with duplicates and empty entries removed
func normalize(ids []string) []string {
	set := toSet(ids)
	delete(set, "")
	return minus(set, nil)
}
