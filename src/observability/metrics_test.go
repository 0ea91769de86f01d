package observability_test

import (
	"context"
	"testing"
	"time"

	"budgeteer-server/src/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()

	a.RecordSyncPass("success", 2*time.Second)
	a.AddSyncRecords("added", 3)
	a.AddSyncRecords("removed", 0)

	count, err := testutil.GatherAndCount(a.Registry, "budgeteer_sync_passes_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(b.Registry, "budgeteer_sync_passes_total")
	assert.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer(context.Background(), "", "budgeteer")
	assert.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
