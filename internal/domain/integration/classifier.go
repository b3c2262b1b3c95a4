package integration

import (
	"sort"
	"time"
)

// ConflictRecord is a record present on both sides with at least one side
// modified after the watermark. It lives only for one sync pass.
type ConflictRecord struct {
	RecordID         string
	Local            Record
	External         Record
	LocalModified    bool
	ExternalModified bool
}

// IsTrueConflict reports whether both sides changed independently
func (c ConflictRecord) IsTrueConflict() bool {
	return c.LocalModified && c.ExternalModified
}

// Classification partitions local_ids ∪ external_ids. Every id lands in
// exactly one of the four buckets.
type Classification struct {
	LocalOnlyNew    []Record
	ExternalOnlyNew []Record
	Conflicts       []ConflictRecord
	// Unchanged holds ids that need no action: present on both sides and
	// unmodified, or local-only and not modified since the watermark.
	Unchanged []string
	// DuplicateExternalRows lists row numbers whose id already appeared
	// earlier in the external table; only the first row is classified.
	DuplicateExternalRows []int
}

// IDs returns every classified id grouped by bucket
func (c Classification) IDs() (localOnly, externalOnly, conflicts, unchanged []string) {
	for _, r := range c.LocalOnlyNew {
		localOnly = append(localOnly, r.ID)
	}
	for _, r := range c.ExternalOnlyNew {
		externalOnly = append(externalOnly, r.ID)
	}
	for _, r := range c.Conflicts {
		conflicts = append(conflicts, r.RecordID)
	}
	return localOnly, externalOnly, conflicts, append([]string(nil), c.Unchanged...)
}

// IsEmpty reports whether nothing needs to be applied
func (c Classification) IsEmpty() bool {
	return len(c.LocalOnlyNew) == 0 && len(c.ExternalOnlyNew) == 0 && len(c.Conflicts) == 0
}

// Classify partitions local and external records keyed by id. It has no
// side effects. An external record without a parseable last-modified time
// counts as not modified.
func Classify(local, external []Record, since time.Time) Classification {
	localByID := make(map[string]Record, len(local))
	for _, r := range local {
		localByID[r.ID] = r
	}

	externalByID := make(map[string]Record, len(external))
	var result Classification
	for _, r := range external {
		if _, dup := externalByID[r.ID]; dup {
			result.DuplicateExternalRows = append(result.DuplicateExternalRows, r.RowNumber)
			continue
		}
		externalByID[r.ID] = r
	}

	for id, l := range localByID {
		ext, onExternal := externalByID[id]
		localModified := l.LocalUpdatedAt.After(since)
		if !onExternal {
			if localModified {
				result.LocalOnlyNew = append(result.LocalOnlyNew, l)
			} else {
				result.Unchanged = append(result.Unchanged, id)
			}
			continue
		}

		externalModified := ext.ExternalUpdatedAt != nil && ext.ExternalUpdatedAt.After(since)
		if localModified || externalModified {
			result.Conflicts = append(result.Conflicts, ConflictRecord{
				RecordID:         id,
				Local:            l,
				External:         ext,
				LocalModified:    localModified,
				ExternalModified: externalModified,
			})
			continue
		}
		result.Unchanged = append(result.Unchanged, id)
	}

	for id, ext := range externalByID {
		if _, onLocal := localByID[id]; !onLocal {
			result.ExternalOnlyNew = append(result.ExternalOnlyNew, ext)
		}
	}

	sort.Slice(result.LocalOnlyNew, func(i, j int) bool { return result.LocalOnlyNew[i].ID < result.LocalOnlyNew[j].ID })
	sort.Slice(result.ExternalOnlyNew, func(i, j int) bool {
		return result.ExternalOnlyNew[i].RowNumber < result.ExternalOnlyNew[j].RowNumber
	})
	sort.Slice(result.Conflicts, func(i, j int) bool { return result.Conflicts[i].RecordID < result.Conflicts[j].RecordID })
	sort.Strings(result.Unchanged)

	return result
}
