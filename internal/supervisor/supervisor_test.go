package supervisor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/chainclient"
	"github.com/lifi-labs/fee-ingestion-engine/internal/logging"
	"github.com/lifi-labs/fee-ingestion-engine/internal/metrics"
	"github.com/lifi-labs/fee-ingestion-engine/internal/model"
)

// Supervisor.Start/Stop dial a live RPC endpoint and a live document
// store through their concrete *chainclient.Pool/*chainregistry.Registry
// dependencies, so a full lifecycle exercise belongs in an integration
// suite rather than here. These cases cover the pieces that don't
// require either.

func newTestSupervisor() *Supervisor {
	m := metrics.New(prometheus.NewRegistry())
	log := logging.New("test", "error", "json")
	return New(chainclient.New(), nil, nil, m, log)
}

func TestStatus_UnknownChainIsStopped(t *testing.T) {
	s := newTestSupervisor()
	assert.Equal(t, model.WorkerStopped, s.Status(999))
}

func TestUpdateInterval_UnknownChainReturnsNotFound(t *testing.T) {
	s := newTestSupervisor()
	err := s.UpdateInterval(999, 10*time.Second)
	assert.Equal(t, apperrors.NotFound, apperrors.KindOf(err))
}

func TestGracefulShutdown_NoWorkersReturnsImmediately(t *testing.T) {
	s := newTestSupervisor()
	done := make(chan struct{})
	go func() {
		s.GracefulShutdown(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GracefulShutdown did not return with no workers running")
	}
}

func TestWorker_StatusTransitions(t *testing.T) {
	w := &worker{status: model.WorkerStarting}
	assert.Equal(t, model.WorkerStarting, w.getStatus())

	w.setStatus(model.WorkerRunning)
	assert.Equal(t, model.WorkerRunning, w.getStatus())

	w.setStatus(model.WorkerError)
	assert.Equal(t, model.WorkerError, w.getStatus())
}
