package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

// queryLogger sends gorm's statement trace through the service logger:
// slow statements at warn, failures other than not-found at debug (callers
// decide whether a failed statement is an error worth reporting).
type queryLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow}
}

func (q *queryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLogger) Info(ctx context.Context, msg string, _ ...any) { q.logg.Debug(ctx, msg) }

func (q *queryLogger) Warn(ctx context.Context, msg string, _ ...any) { q.logg.Warn(ctx, msg) }

func (q *queryLogger) Error(ctx context.Context, msg string, _ ...any) {
	q.logg.Error(ctx, msg, errors.New(msg))
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	slow := q.slow > 0 && took >= q.slow
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !slow && !failed {
		return
	}
	stmt, rows := fc()
	fields := map[string]any{
		"sql":         stmt,
		"rows":        rows,
		"duration_ms": took.Milliseconds(),
	}
	if failed {
		fields["error"] = err.Error()
		q.logg.Debug(q.logg.WithFields(ctx, fields), "db.statement_failed")
	}
	if slow {
		q.logg.Warn(q.logg.WithFields(ctx, fields), "db.slow_query")
	}
}
