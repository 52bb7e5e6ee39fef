package executable

import (
	"time"

	"github.com/contentmigrate/migrate-framework/row"
	"github.com/contentmigrate/migrate-framework/source"
)

type config struct {
	sync             bool
	update           bool
	failureThreshold int
	deadline         time.Time
	limit            int
	idList           []row.IDs
	retry            source.RetryPolicy
	now              func() time.Time
}

func newConfig() config {
	return config{
		retry: source.DefaultRetryPolicy,
		now:   time.Now,
	}
}

// Option configures an Executable.
type Option func(*config)

// WithSync processes every row regardless of its id map entry, and rolls back the entries of
// source rows that no longer exist once the source is exhausted.
func WithSync() Option {
	return func(c *config) { c.sync = true }
}

// WithUpdate marks every id map entry as needing an update before the run starts.
func WithUpdate() Option {
	return func(c *config) { c.update = true }
}

// WithFailureThreshold aborts the run once more than n rows failed. Zero disables the
// threshold.
func WithFailureThreshold(n int) Option {
	return func(c *config) { c.failureThreshold = n }
}

// WithDeadline stops the run at the first row boundary after t.
func WithDeadline(t time.Time) Option {
	return func(c *config) { c.deadline = t }
}

// WithLimit stops the run after n processed rows.
func WithLimit(n int) Option {
	return func(c *config) { c.limit = n }
}

// WithIDList restricts the run to the rows with the given source ids.
func WithIDList(ids []row.IDs) Option {
	return func(c *config) { c.idList = ids }
}

// WithSourceRetry sets how often opening the source is retried.
func WithSourceRetry(p source.RetryPolicy) Option {
	return func(c *config) { c.retry = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
