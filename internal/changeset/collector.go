package changeset

import (
	"context"
	"fmt"
	"time"

	"github.com/providentiaww/dam-sync/internal/dam"
	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/models"
	"github.com/providentiaww/dam-sync/internal/queue"
	"github.com/providentiaww/dam-sync/internal/storage"
)

const (
	// DefaultPageSize is the search page size used when none is configured.
	DefaultPageSize = 100

	// consistencyWindow is how long a transcoded rendition may take to reach the CDN.
	consistencyWindow = time.Hour

	queryTimeLayout = "2006-01-02T15:04:05Z"
)

// Searcher runs one paginated asset search.
type Searcher interface {
	Search(ctx context.Context, params dam.SearchParams) (*dam.SearchResult, error)
}

// Enqueuer receives one job per affected record.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.ReconciliationJob) error
}

// Options controls a Collector.
type Options struct {
	PageSize int
	// Transcode bounds the window by now-1h so renditions have propagated.
	Transcode bool
	// Bundles restricts queued records to these bundles. Empty means all.
	Bundles []string
}

// Collector turns the DAM change feed into reconciliation jobs.
type Collector struct {
	search  Searcher
	cursor  storage.CursorStore
	records storage.RecordStore
	queue   Enqueuer
	opts    Options
	bundles map[string]bool
	log     logging.Logger
	now     func() time.Time
}

func NewCollector(search Searcher, cursor storage.CursorStore, records storage.RecordStore, q Enqueuer, opts Options, logger logging.Logger) *Collector {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Collector{
		search:  search,
		cursor:  cursor,
		records: records,
		queue:   q,
		opts:    opts,
		log:     logger.With("ChangeSetCollector"),
		now:     time.Now,
	}
	if len(opts.Bundles) > 0 {
		c.bundles = make(map[string]bool, len(opts.Bundles))
		for _, b := range opts.Bundles {
			c.bundles[b] = true
		}
	}
	return c
}

// WithClock overrides the time source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// PageSize returns the effective page size.
func (c *Collector) PageSize() int { return c.opts.PageSize }

// Collect returns the IDs of assets edited since the last sync, in the order
// they were first seen. On any failure it returns an empty set and leaves the
// cursor where it was. On success the cursor moves to the time the scan began.
func (c *Collector) Collect(ctx context.Context) []string {
	started := c.now().UTC()

	lastSync, err := c.cursor.LastSync(ctx)
	if err != nil {
		c.log.Errorf("Failed to read last sync time: %v", err)
		return nil
	}
	if lastSync.IsZero() {
		lastSync = time.Unix(0, 0)
	}

	query, ok := c.query(started, lastSync.UTC())
	if !ok {
		c.log.Debugf("Nothing to collect yet, last sync %s is inside the consistency window", lastSync.Format(time.RFC3339))
		return nil
	}

	ids, err := c.scan(ctx, query)
	if err != nil {
		c.log.Errorf("Failed to fetch asset ids: %v", err)
		return nil
	}

	if err := c.cursor.SetLastSync(ctx, started); err != nil {
		c.log.Errorf("Failed to advance last sync time: %v", err)
		return nil
	}
	return ids
}

func (c *Collector) query(now, lastSync time.Time) (string, bool) {
	after := lastSync.Format(queryTimeLayout)
	if !c.opts.Transcode {
		return fmt.Sprintf("lastEditDate:[after %s]", after), true
	}

	cutoff := now.Add(-consistencyWindow)
	if cutoff.Before(lastSync) {
		return "", false
	}
	return fmt.Sprintf("(lastEditDate:[after %s]) AND (lastEditDate:[before %s])", after, cutoff.Format(queryTimeLayout)), true
}

func (c *Collector) scan(ctx context.Context, query string) ([]string, error) {
	size := c.opts.PageSize
	seen := make(map[string]bool)
	var ids []string
	total, fetched := 0, 0

	for page := 1; ; page++ {
		res, err := c.search.Search(ctx, dam.SearchParams{
			Query:           query,
			Limit:           size,
			Offset:          size * (page - 1),
			IncludeDeleted:  true,
			IncludeArchived: true,
		})
		if err != nil {
			return nil, err
		}
		if page == 1 {
			total = res.TotalCount
		}
		if len(res.Items) == 0 {
			break
		}

		fetched += len(res.Items)
		for _, a := range res.Items {
			if a.ID == "" || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			ids = append(ids, a.ID)
		}
		if fetched >= total {
			break
		}
	}
	return ids, nil
}

// UpdateQueue collects changed assets and enqueues one job per local record
// bound to them. It returns the number of jobs enqueued.
func (c *Collector) UpdateQueue(ctx context.Context) (int, error) {
	ids := c.Collect(ctx)
	if len(ids) == 0 {
		return 0, nil
	}

	recs, err := c.records.FindByAssetIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to find records for changed assets: %w", err)
	}

	total := 0
	queued := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if queued[rec.ID] {
			continue
		}
		if c.bundles != nil && !c.bundles[rec.Bundle] {
			continue
		}
		queued[rec.ID] = true
		if err := c.queue.Enqueue(ctx, queue.NewJob(rec.ID)); err != nil {
			return total, fmt.Errorf("failed to enqueue record %s: %w", rec.ID, err)
		}
		total++
	}

	if total > 0 {
		c.log.Infof("Queued %d records for refresh from %d changed assets", total, len(ids))
	}
	return total, nil
}
