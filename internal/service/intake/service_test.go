package intake

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/internal/store"
	"github.com/splax/localvercel/intake/internal/ws"
	"github.com/splax/localvercel/intake/pkg/logger"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingScheduler) Schedule(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(event string, _ domain.FailureRecord) {
	p.events = append(p.events, event)
}

type brokenStore struct{ store.Store }

func (brokenStore) Push(context.Context, domain.FailureRecord) error {
	return errors.New("disk full")
}

func newIntake(t *testing.T, sched Scheduler) (*Service, store.Store, *prometheus.Registry, *recordingPublisher) {
	t.Helper()
	st := store.NewFile(filepath.Join(t.TempDir(), "errors.json"), 0)
	reg := prometheus.NewRegistry()
	pub := &recordingPublisher{}
	svc := NewService(Options{Store: st, Scheduler: sched, Publisher: pub, Logger: logger.Discard(), Registry: reg})
	return svc, st, reg, pub
}

func TestIngestBuildsAndStoresRecord(t *testing.T) {
	sched := &recordingScheduler{}
	svc, st, _, pub := newIntake(t, sched)
	fixed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	svc.now = func() time.Time { return fixed }

	body := []byte(`{"type":"deployment.error","payload":{
		"project":{"name":"acme"},
		"deployment":{"id":"dpl_1","meta":{"githubCommitSha":"abc","githubCommitRef":"main"}},
		"logs":["./src/page.tsx:12:5","Type error: foo is not assignable"]}}`)

	rec, err := svc.Ingest(context.Background(), body)
	require.NoError(t, err)

	_, err = uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed.UTC(), rec.Timestamp)
	assert.Equal(t, "acme", rec.ProjectName)
	assert.Equal(t, domain.ErrorTypeTypeScript, rec.ErrorType)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Zero(t, rec.Attempts)
	assert.Equal(t, []string{"./src/page.tsx"}, rec.ErrorDetails.Files)
	assert.Equal(t, []int{12}, rec.ErrorDetails.LineNumbers)
	assert.Equal(t, "Type error: foo is not assignable", rec.ErrorMessage)
	assert.Equal(t, "abc", rec.GitCommit)

	stored, err := st.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ProjectName, stored.ProjectName)

	assert.Equal(t, []string{rec.ID}, sched.ids)
	assert.Equal(t, []string{ws.EventCreated}, pub.events)
}

func TestIngestTruncatesBuildLogs(t *testing.T) {
	svc, _, _, _ := newIntake(t, nil)
	logs := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		logs = append(logs, `"line"`)
	}
	body := []byte(`{"source":"github-actions","projectName":"acme","deploymentId":"d1","logs":[` + join(logs) + `]}`)

	rec, err := svc.Ingest(context.Background(), body)
	require.NoError(t, err)
	assert.Len(t, rec.BuildLogs, domain.MaxBuildLogLines)
	assert.Equal(t, domain.ErrorTypeUnknown, rec.ErrorType)
	assert.Equal(t, "Deployment failed", rec.ErrorMessage)
}

func join(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func TestIngestCountsFailures(t *testing.T) {
	svc, _, _, _ := newIntake(t, nil)
	body := []byte(`{"source":"github-actions","projectName":"acme","deploymentId":"d1","logs":["npm ERR! peer dep"]}`)
	_, err := svc.Ingest(context.Background(), body)
	require.NoError(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(svc.failures, "intake_failures_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.failures.WithLabelValues("npm-install", "github-actions")))
}

func TestIngestRejectsBadPayloadWithoutSideEffects(t *testing.T) {
	sched := &recordingScheduler{}
	svc, st, _, _ := newIntake(t, sched)

	_, err := svc.Ingest(context.Background(), []byte(`{"hello":"world"}`))
	require.ErrorIs(t, err, ErrUnrecognizedPayload)

	all, err := st.Range(context.Background(), 0, -1)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, sched.ids)
}

func TestIngestStoreFailure(t *testing.T) {
	sched := &recordingScheduler{}
	svc := NewService(Options{Store: brokenStore{}, Scheduler: sched, Logger: logger.Discard()})
	_, err := svc.Ingest(context.Background(), []byte(`{"source":"github-actions","projectName":"a","deploymentId":"d"}`))
	require.Error(t, err)
	assert.Empty(t, sched.ids)
}

func TestListDefaultsAndValidation(t *testing.T) {
	svc, st, _, _ := newIntake(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Push(ctx, domain.FailureRecord{ID: uuid.NewString(), Timestamp: now, ProjectName: "acme", Status: domain.StatusPending}))
	}
	require.NoError(t, st.Push(ctx, domain.FailureRecord{ID: uuid.NewString(), Timestamp: now, ProjectName: "acme", Status: domain.StatusFixing}))

	recs, err := svc.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	recs, err = svc.List(ctx, domain.StatusFixing, 500)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = svc.List(ctx, domain.StatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = svc.List(ctx, domain.Status("bogus"), 10)
	require.Error(t, err)
}

func TestIngestKeepsRawLogEntries(t *testing.T) {
	svc, _, _, _ := newIntake(t, nil)
	body := []byte(`{"type":"deployment.error","payload":{"project":{"name":"acme"},"logs":["./src/page.tsx:3:1\nType error: foo","done"]}}`)

	rec, err := svc.Ingest(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, []string{"./src/page.tsx:3:1\nType error: foo", "done"}, rec.BuildLogs)
	assert.Equal(t, domain.ErrorTypeTypeScript, rec.ErrorType)
	assert.Equal(t, []string{"./src/page.tsx"}, rec.ErrorDetails.Files)
}
