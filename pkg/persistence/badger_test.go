package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakpoint-labs/havoc/pkg/types"
)

func persistedExperiment(id, name string) types.Experiment {
	return types.Experiment{
		ID:      id,
		Name:    name,
		Target:  "payments",
		Type:    types.NetworkLatency,
		Enabled: true,
		RollbackTriggers: []types.RollbackTrigger{
			{Metric: "error_rate", Threshold: 5, Operator: "gt", ConfirmDuration: 30 * time.Second},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndLoadExperiments(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-1", "latency-spike")))
	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-2", "cpu-burn")))

	loaded, err := store.LoadExperiments()
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byID := map[string]types.Experiment{}
	for _, exp := range loaded {
		byID[exp.ID] = exp
	}
	assert.Equal(t, "latency-spike", byID["exp-1"].Name)
	require.Len(t, byID["exp-1"].RollbackTriggers, 1)
	assert.Equal(t, 30*time.Second, byID["exp-1"].RollbackTriggers[0].ConfirmDuration)
}

func TestSaveIsAnUpsert(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-1", "v1")))
	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-1", "v2")))

	loaded, err := store.LoadExperiments()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "v2", loaded[0].Name)
}

func TestDeleteExperiment(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-1", "latency-spike")))
	require.NoError(t, store.DeleteExperiment("exp-1"))

	loaded, err := store.LoadExperiments()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// unknown ids are a no-op
	require.NoError(t, store.DeleteExperiment("never-saved"))
}

func TestExperimentsSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveExperiment(persistedExperiment("exp-1", "latency-spike")))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadExperiments()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "exp-1", loaded[0].ID)
}
