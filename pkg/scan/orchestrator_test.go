package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/config"
	"github.com/thymehq/thyme/pkg/database"
	"github.com/thymehq/thyme/pkg/metrics"
	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/store"
)

// newTestOrchestrator wires an orchestrator over a sqlmock database with no
// expectations, so every store call fails.
func newTestOrchestrator(t *testing.T) *Orchestrator {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &Orchestrator{
		stores:  store.New(database.NewClientFromDB(sqlx.NewDb(db, "sqlmock"))),
		tuning:  *config.DefaultTuning(),
		metrics: metrics.New(prometheus.NewRegistry()),
		logger:  slog.New(slog.DiscardHandler),
	}
}

func TestStepRecorderConcurrentReports(t *testing.T) {
	o := newTestOrchestrator(t)
	result := &Result{}
	record := o.stepRecorder(result)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("meta_audit", fmt.Errorf("update %d failed", i))
		}()
	}
	wg.Wait()

	assert.Len(t, result.StepErrors, 100)
}

func TestMetaAuditRecordsEveryFailure(t *testing.T) {
	o := newTestOrchestrator(t)

	pages := make([]models.Page, 200)
	for i := range pages {
		pages[i] = models.Page{URL: fmt.Sprintf("https://example.com/page-%d", i)}
	}

	result := &Result{}
	total := o.metaAudit(context.Background(), pages, o.stepRecorder(result))

	// Every page is missing both its title and its meta description.
	assert.Equal(t, 400, total)
	// Every persist attempt failed, and none of the reports were lost.
	assert.Len(t, result.StepErrors, 200)
}
