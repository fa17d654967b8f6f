package diffengine

import "strings"

// Patch is a single old_string -> new_string edit submitted by an agent.
type Patch struct {
	OldString string
	NewString string
}

// ConflictReason classifies why a patch could not be applied.
type ConflictReason string

const (
	ConflictNotFound       ConflictReason = "not-found"
	ConflictAmbiguous      ConflictReason = "ambiguous"
	ConflictContextChanged ConflictReason = "context-changed"
)

// Conflict describes one patch that could not be applied against current
// content.
type Conflict struct {
	PatchIndex int
	Reason     ConflictReason
}

// ApplicabilityResult is the outcome of checking a patch list against the
// file's current content, relative to the content the agent expected.
type ApplicabilityResult struct {
	Applicable            []bool
	Conflicts             []Conflict
	NonConflictingPatches []int
}

// CheckApplicability evaluates each patch against current independently: a
// patch is applicable iff old_string occurs exactly once in current. When
// expected is supplied and differs from current, a patch whose old_string
// *is* present in current but whose surrounding neighbourhood differs from
// where it sat in expected is reported as context-changed rather than a
// plain match, since the same literal text resurfacing elsewhere is not the
// edit the agent intended.
func CheckApplicability(expected, current string, patches []Patch) ApplicabilityResult {
	res := ApplicabilityResult{Applicable: make([]bool, len(patches))}

	for i, p := range patches {
		count := strings.Count(current, p.OldString)

		switch {
		case count == 0:
			res.Conflicts = append(res.Conflicts, Conflict{PatchIndex: i, Reason: ConflictNotFound})
		case count > 1:
			res.Conflicts = append(res.Conflicts, Conflict{PatchIndex: i, Reason: ConflictAmbiguous})
		case expected != "" && expected != current && contextShifted(expected, current, p.OldString):
			res.Conflicts = append(res.Conflicts, Conflict{PatchIndex: i, Reason: ConflictContextChanged})
		default:
			res.Applicable[i] = true
			res.NonConflictingPatches = append(res.NonConflictingPatches, i)
		}
	}

	return res
}

// contextShifted reports whether old_string appears at a different
// surrounding-line context in current than it did in expected, when it is
// present in both. Only meaningful when old_string occurs exactly once in
// both versions; callers that already know it occurs once in current still
// check expected defensively.
func contextShifted(expected, current, oldString string) bool {
	if strings.Count(expected, oldString) != 1 {
		return false
	}

	expIdx := strings.Index(expected, oldString)
	curIdx := strings.Index(current, oldString)

	expBefore, expAfter := neighbourLines(expected, expIdx, len(oldString))
	curBefore, curAfter := neighbourLines(current, curIdx, len(oldString))

	return expBefore != curBefore || expAfter != curAfter
}

// neighbourLines returns the line immediately before and after the match
// starting at idx with the given length, for a one-line-of-context
// comparison.
func neighbourLines(s string, idx, length int) (before, after string) {
	preStart := strings.LastIndex(s[:idx], "\n")
	before = s[preStart+1 : idx]

	end := idx + length
	postEnd := strings.Index(s[end:], "\n")
	if postEnd == -1 {
		after = s[end:]
	} else {
		after = s[end : end+postEnd]
	}

	return before, after
}

// ApplyPatches applies patches in submitted order against content. Each
// patch must be uniquely locatable in the content *as progressively
// modified by prior patches in the same call*; if any patch is not uniquely
// locatable at its turn, the whole application fails and no partial result
// is returned (update()'s all-or-nothing patch semantics).
func ApplyPatches(content string, patches []Patch) (string, int, error) {
	result := content
	for i, p := range patches {
		count := strings.Count(result, p.OldString)
		if count != 1 {
			return "", i, &PatchError{Index: i, Count: count}
		}
		result = strings.Replace(result, p.OldString, p.NewString, 1)
	}
	return result, -1, nil
}

// PatchError reports which patch, during ApplyPatches, failed to be
// uniquely locatable.
type PatchError struct {
	Index int
	Count int
}

func (e *PatchError) Error() string {
	if e.Count == 0 {
		return "diffengine: patch not found"
	}
	return "diffengine: patch ambiguous"
}
