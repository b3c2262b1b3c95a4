package integration

import (
	"fmt"
	"strings"
)

// ResolutionAction is the decision taken for one conflict
type ResolutionAction string

const (
	ResolutionKeepLocal    ResolutionAction = "keep_local"
	ResolutionKeepExternal ResolutionAction = "keep_external"
	ResolutionMerge        ResolutionAction = "merge"
	ResolutionHold         ResolutionAction = "hold_for_manual_review"
)

// IsValid returns true if the action is known
func (a ResolutionAction) IsValid() bool {
	switch a {
	case ResolutionKeepLocal, ResolutionKeepExternal, ResolutionMerge, ResolutionHold:
		return true
	default:
		return false
	}
}

// Resolution is the outcome of Resolve. Nothing is written until the
// orchestrator applies it.
type Resolution struct {
	Action ResolutionAction
	// Merged is set for ResolutionMerge
	Merged map[string]any
}

// Resolve decides a conflict. When only one side changed since the
// watermark that side wins under every policy; the policy decides only
// when both sides changed. The result depends on nothing but its inputs.
func Resolve(c ConflictRecord, policy ConflictPolicy, merger FieldMerger) (Resolution, error) {
	if !policy.IsValid() {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownConflictPolicy, policy)
	}

	switch {
	case c.LocalModified && !c.ExternalModified:
		return Resolution{Action: ResolutionKeepLocal}, nil
	case c.ExternalModified && !c.LocalModified:
		return Resolution{Action: ResolutionKeepExternal}, nil
	}

	switch policy {
	case ConflictPolicyLocalWins:
		return Resolution{Action: ResolutionKeepLocal}, nil
	case ConflictPolicyExternalWins:
		return Resolution{Action: ResolutionKeepExternal}, nil
	case ConflictPolicyManual:
		return Resolution{Action: ResolutionHold}, nil
	default:
		merged, err := merger.Merge(c.Local.Payload, c.External.Payload)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Action: ResolutionMerge, Merged: merged}, nil
	}
}

// FieldMerger combines two payloads field by field using the local payload
// as the base.
//
//   - fill_missing: an external value is taken only where the local field is
//     absent or empty.
//   - overlay_external: every non-empty external value replaces the local one.
//
// Fields listed in ExternalAuthoritative always take a non-empty external
// value. Empty external values never overwrite anything.
type FieldMerger struct {
	Strategy              FieldMergeStrategy
	ExternalAuthoritative []string
}

// Merge returns the merged payload; neither input is modified
func (m FieldMerger) Merge(local, external map[string]any) (map[string]any, error) {
	strategy := m.Strategy
	if strategy == "" {
		strategy = FieldMergeFillMissing
	}
	if !strategy.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMergeStrategy, strategy)
	}

	authoritative := make(map[string]struct{}, len(m.ExternalAuthoritative))
	for _, f := range m.ExternalAuthoritative {
		authoritative[f] = struct{}{}
	}

	merged := make(map[string]any, len(local)+len(external))
	for k, v := range local {
		merged[k] = v
	}
	for k, ev := range external {
		if isEmptyValue(ev) {
			continue
		}
		if _, ok := authoritative[k]; ok {
			merged[k] = ev
			continue
		}
		switch strategy {
		case FieldMergeOverlayExternal:
			merged[k] = ev
		case FieldMergeFillMissing:
			if isEmptyValue(merged[k]) {
				merged[k] = ev
			}
		}
	}
	return merged, nil
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
