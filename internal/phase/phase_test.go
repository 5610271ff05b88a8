package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanSucceed(t *testing.T) {
	assert.True(t, CanSucceed(Classify, Context))
	assert.True(t, CanSucceed(Context, Wisdom))
	assert.True(t, CanSucceed(Context, Plan))
	assert.True(t, CanSucceed(Plan, Plan))
	assert.True(t, CanSucceed(Validate, Plan))
	assert.True(t, CanSucceed(Execute, Execute))
	assert.True(t, CanSucceed(Verify, Classify))
	assert.False(t, CanSucceed(Classify, Plan))
	assert.False(t, CanSucceed(Delegate, Classify))
}

func TestRequiredArtifacts(t *testing.T) {
	assert.Empty(t, RequiredArtifacts(Classify))
	assert.ElementsMatch(t, []string{"classification"}, RequiredArtifacts(Context))
	assert.ElementsMatch(t, []string{"delegation-targets", "task-graph"}, RequiredArtifacts(Execute))
}

func TestAllCoversEightPhases(t *testing.T) {
	assert.Len(t, All(), 8)
	for _, p := range All() {
		assert.True(t, Valid(p))
	}
}

func TestValidRejectsUnknownPhase(t *testing.T) {
	assert.False(t, Valid(Phase("bogus")))
}

func TestIsSelfLoop(t *testing.T) {
	assert.True(t, IsSelfLoop(Plan, Plan))
	assert.False(t, IsSelfLoop(Plan, Validate))
}
