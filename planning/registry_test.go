package planning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/errors"
)

func TestRegistryRegisterAndGetClone(t *testing.T) {
	r := NewRegistry(0, 0)
	defer r.Close()

	p := validPlan()
	require.NoError(t, r.Register(p))

	// The registry stores its own copy.
	p.Steps[0].Description = "mutated after register"
	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fetch input", got.Steps[0].Description)

	// And hands out copies too.
	got.Steps[0].Description = "mutated after get"
	again, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fetch input", again.Steps[0].Description)
}

func TestRegistryDuplicateRegister(t *testing.T) {
	r := NewRegistry(0, 0)
	defer r.Close()

	require.NoError(t, r.Register(validPlan()))
	err := r.Register(validPlan())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(0, 0)
	defer r.Close()

	_, err := r.Get("plan_nope")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodePlanNotFound))
}

func TestRegistryUpdateStatusTerminalIsAbsorbing(t *testing.T) {
	r := NewRegistry(0, 0)
	defer r.Close()

	p := validPlan()
	require.NoError(t, r.Register(p))
	require.NoError(t, r.UpdateStatus(p.ID, PlanStatusExecuting))
	require.NoError(t, r.UpdateStatus(p.ID, PlanStatusCompleted))

	err := r.UpdateStatus(p.ID, PlanStatusExecuting)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidInput))

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, PlanStatusCompleted, got.Status)
}

func TestRegistrySweepRetiresTerminalPlans(t *testing.T) {
	r := NewRegistry(time.Nanosecond, 0)
	defer r.Close()

	done := validPlan()
	done.ID = "plan_done"
	live := validPlan()
	live.ID = "plan_live"
	require.NoError(t, r.Register(done))
	require.NoError(t, r.Register(live))
	require.NoError(t, r.UpdateStatus(done.ID, PlanStatusCompleted))

	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Count())

	_, err := r.Get(done.ID)
	assert.True(t, errors.IsCode(err, errors.CodePlanNotFound))
	_, err = r.Get(live.ID)
	assert.NoError(t, err)
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry(0, 0)
	defer r.Close()

	a := validPlan()
	a.ID = "plan_a"
	b := validPlan()
	b.ID = "plan_b"
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	plans := r.List()
	assert.Len(t, plans, 2)
}

func TestRegistryBackgroundSweeper(t *testing.T) {
	r := NewRegistry(time.Millisecond, 5*time.Millisecond)
	defer r.Close()

	p := validPlan()
	require.NoError(t, r.Register(p))
	require.NoError(t, r.UpdateStatus(p.ID, PlanStatusFailed))

	assert.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}
