package diffengine_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/diffengine"
)

func TestComputeIdenticalVersionsIsEmpty(t *testing.T) {
	d := diffengine.Compute("a\nb\nc\n", "a\nb\nc\n", 3)
	require.Empty(t, d.Regions)
	require.Equal(t, diffengine.Summary{}, d.Summary)
	require.Empty(t, d.Unified)
}

func TestComputeSingleModifiedLine(t *testing.T) {
	d := diffengine.Compute("a\nb\nc\n", "a\nB\nc\n", 3)
	require.Len(t, d.Regions, 1)
	require.Equal(t, diffengine.RegionModified, d.Regions[0].Kind)
	require.Equal(t, 2, d.Regions[0].OldStart)
	require.Equal(t, 1, d.Summary.RegionsChanged)
	require.Contains(t, d.Unified, "@@")
	require.Contains(t, d.Unified, "-b")
	require.Contains(t, d.Unified, "+B")

	want := diffengine.Region{
		Kind:         diffengine.RegionModified,
		OldStart:     2,
		OldEnd:       2,
		NewStart:     2,
		NewEnd:       2,
		OldContent:   "a\nb\nc",
		NewContent:   "a\nB\nc",
		ContextLines: 3,
	}
	if diff := cmp.Diff(want, d.Regions[0]); diff != "" {
		t.Errorf("region mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeAddedLines(t *testing.T) {
	d := diffengine.Compute("a\nb\n", "a\nb\nc\n", 3)
	require.Len(t, d.Regions, 1)
	require.Equal(t, diffengine.RegionAdded, d.Regions[0].Kind)
	require.Equal(t, 1, d.Summary.LinesAdded)
}

func TestComputeRemovedLines(t *testing.T) {
	d := diffengine.Compute("a\nb\nc\n", "a\nc\n", 3)
	require.Len(t, d.Regions, 1)
	require.Equal(t, diffengine.RegionRemoved, d.Regions[0].Kind)
	require.Equal(t, 1, d.Summary.LinesRemoved)
}

func TestCheckApplicabilityScenario(t *testing.T) {
	expected := "a\nb\nc\n"
	current := "a\nB\nc\n"
	patches := []diffengine.Patch{{OldString: "b", NewString: "B2"}}

	res := diffengine.CheckApplicability(expected, current, patches)
	require.False(t, res.Applicable[0])
	require.Len(t, res.Conflicts, 1)
	require.Equal(t, diffengine.ConflictNotFound, res.Conflicts[0].Reason)
	require.Empty(t, res.NonConflictingPatches)
}

func TestCheckApplicabilityAmbiguous(t *testing.T) {
	patches := []diffengine.Patch{{OldString: "x", NewString: "y"}}
	res := diffengine.CheckApplicability("", "x x", patches)
	require.Equal(t, diffengine.ConflictAmbiguous, res.Conflicts[0].Reason)
}

func TestCheckApplicabilityApplicable(t *testing.T) {
	patches := []diffengine.Patch{{OldString: "b", NewString: "B2"}}
	res := diffengine.CheckApplicability("a\nb\nc\n", "a\nb\nc\n", patches)
	require.True(t, res.Applicable[0])
	require.Equal(t, []int{0}, res.NonConflictingPatches)
}

func TestApplyPatchesSequential(t *testing.T) {
	patches := []diffengine.Patch{
		{OldString: "a", NewString: "x"},
		{OldString: "b", NewString: "y"},
	}
	out, failedIdx, err := diffengine.ApplyPatches("a\nb\n", patches)
	require.NoError(t, err)
	require.Equal(t, -1, failedIdx)
	require.Equal(t, "x\ny\n", out)
}

func TestApplyPatchesFailsOnAmbiguity(t *testing.T) {
	patches := []diffengine.Patch{{OldString: "a", NewString: "x"}}
	_, failedIdx, err := diffengine.ApplyPatches("a\na\n", patches)
	require.Error(t, err)
	require.Equal(t, 0, failedIdx)
}
