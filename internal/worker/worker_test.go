package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/oauth"
	"github.com/providentiaww/dam-sync/internal/queue"
	"github.com/providentiaww/dam-sync/internal/storage"
)

func TestClassify(t *testing.T) {
	connErr := &dam.Error{Kind: dam.KindConnection, Op: "get asset", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}

	cases := []struct {
		name   string
		err    error
		action Action
		status int
	}{
		{"connection", connErr, Suspend, 0},
		{"authorization", &dam.Error{Kind: dam.KindAuthorization, Status: 401}, Suspend, 401},
		{"invalid credentials", &dam.Error{Kind: dam.KindInvalidCredentials}, Suspend, 401},
		{"not authenticated", oauth.ErrNotAuthenticated, Suspend, 401},
		{"not found", &dam.Error{Kind: dam.KindNotFound, Status: 404}, Proceed, 404},
		{"timeout", &dam.Error{Kind: dam.KindTimeout, Status: 408}, DelayedRequeue, 408},
		{"teapot", &dam.Error{Kind: dam.KindClient, Status: 418}, Requeue, 418},
		{"server", &dam.Error{Kind: dam.KindServer, Status: 503}, Requeue, 503},
		{"unknown dam", &dam.Error{Kind: dam.KindUnknown}, Complete, 0},
		{"unmapped", errors.New("something odd"), Complete, 0},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), DelayedRequeue, 408},
		{"connect timeout", &dam.Error{Kind: dam.KindConnection, Err: &net.OpError{Op: "dial", Err: context.DeadlineExceeded}}, Suspend, 0},
		{"token endpoint timeout", &dam.Error{Kind: dam.KindTimeout, Status: 408, Err: fmt.Errorf("token endpoint request failed: %w", context.DeadlineExceeded)}, DelayedRequeue, 408},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(tc.err)
			require.Equal(t, tc.action, d.Action)
			require.Equal(t, tc.status, d.StatusCode)
		})
	}

	require.Equal(t, "Could not create connection to DAM, possible local network issue", Classify(connErr).Reason)
	require.Equal(t, "Unable to process queue due to authorization errors", Classify(&dam.Error{Kind: dam.KindAuthorization}).Reason)
}

type fakeFetcher struct {
	asset *dam.Asset
	err   error
	calls int
}

func (f *fakeFetcher) GetAsset(ctx context.Context, id string) (*dam.Asset, error) {
	f.calls++
	return f.asset, f.err
}

type fakeMaterializer struct {
	err          error
	materialized []string
	discarded    []string
}

func (f *fakeMaterializer) Materialize(ctx context.Context, rec *models.LocalRecord, asset *dam.Asset) error {
	if f.err != nil {
		return f.err
	}
	f.materialized = append(f.materialized, rec.ID)
	return nil
}

func (f *fakeMaterializer) Discard(ctx context.Context, rec *models.LocalRecord) error {
	f.discarded = append(f.discarded, rec.ID)
	return nil
}

type fixture struct {
	records storage.RecordStore
	fetcher *fakeFetcher
	mat     *fakeMaterializer
	log     *logging.Recorder
	worker  *RefreshWorker
}

func newFixture(t *testing.T, deleteOnRemoval bool) *fixture {
	t.Helper()
	records, err := storage.NewFileStore(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)
	f := &fixture{
		records: records,
		fetcher: &fakeFetcher{},
		mat:     &fakeMaterializer{},
		log:     logging.NewRecorder(),
	}
	f.worker = NewRefreshWorker(records, f.fetcher, f.mat, deleteOnRemoval, f.log)
	return f
}

func (f *fixture) addRecord(t *testing.T, rec models.LocalRecord) {
	t.Helper()
	require.NoError(t, f.records.SaveRecord(context.Background(), &rec))
}

func jobFor(recordID string) *models.ReconciliationJob {
	j := queue.NewJob(recordID)
	return &j
}

func TestMissingRecordCompletes(t *testing.T) {
	f := newFixture(t, true)
	d := f.worker.Process(context.Background(), jobFor("gone"))
	require.Equal(t, Complete, d.Action)
	require.Zero(t, f.fetcher.calls)
	require.True(t, f.log.Has(logging.LevelError, "Was the record deleted?"))
}

func TestUnboundRecordCompletes(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image"})
	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)
	require.Zero(t, f.fetcher.calls)
	require.True(t, f.log.Has(logging.LevelError, "Unable to load asset ID"))
}

func TestConnectionFailureSuspends(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1"})
	f.fetcher.err = &dam.Error{Kind: dam.KindConnection, Err: errors.New("dial tcp: connection refused")}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Suspend, d.Action)
	require.Contains(t, d.Reason, "possible local network issue")
	require.Empty(t, f.mat.materialized)
}

func TestNotFoundDeletesPublishedRecordWhenEnabled(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1", Published: true})
	f.fetcher.err = &dam.Error{Kind: dam.KindNotFound, Status: http.StatusNotFound}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)

	_, err := f.records.GetRecord(context.Background(), "r1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Equal(t, []string{"r1"}, f.mat.discarded)
	require.True(t, f.log.Has(logging.LevelWarn, "Deleted record r1"))
}

func TestNotFoundKeepsRecordWhenPolicyDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1", Published: true})
	f.fetcher.err = &dam.Error{Kind: dam.KindNotFound, Status: http.StatusNotFound}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)

	_, err := f.records.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, f.log.Has(logging.LevelWarn, "asset was missing"))
}

func TestNotFoundKeepsUnpublishedRecord(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1", Published: false})
	f.fetcher.err = &dam.Error{Kind: dam.KindNotFound, Status: http.StatusNotFound}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)
	_, err := f.records.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
}

func TestInactiveAssetCountsAsRemoved(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1", Published: true})
	f.fetcher.asset = &dam.Asset{ID: "a1", Status: dam.StatusInactive}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)
	require.Empty(t, f.mat.materialized)
	_, err := f.records.GetRecord(context.Background(), "r1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTimeoutIsDelayed(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1"})
	f.fetcher.err = &dam.Error{Kind: dam.KindTimeout, Status: http.StatusRequestTimeout}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, DelayedRequeue, d.Action)
}

func TestUnmappedErrorCompletesWithoutMutation(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1", Published: true})
	f.fetcher.err = errors.New("boom")

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)
	require.Empty(t, f.mat.materialized)
	require.Empty(t, f.mat.discarded)
	_, err := f.records.GetRecord(context.Background(), "r1")
	require.NoError(t, err)
}

func TestMaterializeFailureSuspends(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1"})
	f.fetcher.asset = &dam.Asset{ID: "a1", Status: dam.StatusActive}
	f.mat.err = errors.New("disk full")

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Suspend, d.Action)
	require.Contains(t, d.Reason, "disk full")
}

func TestActiveAssetIsMaterialized(t *testing.T) {
	f := newFixture(t, true)
	f.addRecord(t, models.LocalRecord{ID: "r1", Bundle: "image", AssetID: "a1"})
	f.fetcher.asset = &dam.Asset{ID: "a1", Status: dam.StatusActive}

	d := f.worker.Process(context.Background(), jobFor("r1"))
	require.Equal(t, Complete, d.Action)
	require.Equal(t, []string{"r1"}, f.mat.materialized)
}

type scriptedProcessor struct {
	decisions map[string]Decision
	seen      []string
}

func (s *scriptedProcessor) Process(ctx context.Context, job *models.ReconciliationJob) Decision {
	s.seen = append(s.seen, job.RecordID)
	return s.decisions[job.RecordID]
}

func TestDrainAppliesDecisions(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue("refresh", nil)
	for _, id := range []string{"ok", "retry", "slow"} {
		require.NoError(t, q.Enqueue(ctx, queue.NewJob(id)))
	}

	proc := &scriptedProcessor{decisions: map[string]Decision{
		"ok":    {Action: Complete},
		"retry": {Action: Requeue},
		"slow":  {Action: DelayedRequeue},
	}}

	// The requeued job becomes visible again immediately; complete it on the second pass.
	drainer := NewDrainer(q, &onceThen{first: proc, then: Decision{Action: Complete}}, DrainOptions{RequeueDelay: time.Hour}, nil)
	report, err := drainer.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Processed)
	require.Equal(t, 2, report.Completed)
	require.Equal(t, 1, report.Requeued)
	require.Equal(t, 1, report.Delayed)
	require.False(t, report.Suspended)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Delayed)
	require.Equal(t, 0, st.Pending)
}

// onceThen delegates the first visit of each record to first and returns then afterwards.
type onceThen struct {
	first   Processor
	then    Decision
	visited map[string]bool
}

func (o *onceThen) Process(ctx context.Context, job *models.ReconciliationJob) Decision {
	if o.visited == nil {
		o.visited = map[string]bool{}
	}
	if o.visited[job.RecordID] {
		return o.then
	}
	o.visited[job.RecordID] = true
	return o.first.Process(ctx, job)
}

func TestDrainStopsOnSuspendAndKeepsJob(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue("refresh", nil)
	require.NoError(t, q.Enqueue(ctx, queue.NewJob("r1")))
	require.NoError(t, q.Enqueue(ctx, queue.NewJob("r2")))

	proc := &scriptedProcessor{decisions: map[string]Decision{
		"r1": {Action: Suspend, Reason: "Could not create connection to DAM, possible local network issue"},
	}}
	drainer := NewDrainer(q, proc, DrainOptions{}, nil)

	report, err := drainer.Drain(ctx)
	require.NoError(t, err)
	require.True(t, report.Suspended)
	require.Equal(t, 1, report.Processed)
	require.Equal(t, []string{"r1"}, proc.seen)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Suspended)
	require.Contains(t, st.Reason, "network")
	require.Equal(t, 2, st.Pending)

	again, err := drainer.Drain(ctx)
	require.NoError(t, err)
	require.True(t, again.Suspended)
	require.Zero(t, again.Processed)
}

func TestDrainRespectsBudget(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue("refresh", nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, queue.NewJob(fmt.Sprintf("r%d", i))))
	}

	drainer := NewDrainer(q, &scriptedProcessor{decisions: map[string]Decision{}}, DrainOptions{Budget: time.Minute}, nil)
	base := time.Now()
	tick := 0
	drainer.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 20 * time.Second)
	}

	report, err := drainer.Drain(ctx)
	require.NoError(t, err)
	require.Less(t, report.Processed, 5)
}
