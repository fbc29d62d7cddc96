package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vmoraes/event-harvester/internal/logger"
)

const slowQuery = 200 * time.Millisecond

// gormLogger routes gorm's own diagnostics into the structured logger. Statements are
// traced at DEBUG; slow statements and failures other than "record not found" at WARN.
type gormLogger struct {
	log    *logger.Logger
	silent bool
}

func newGormLogger(log *logger.Logger) gormlogger.Interface {
	return &gormLogger{log: log}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *g
	c.silent = level == gormlogger.Silent
	return &c
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if !g.silent {
		g.log.Info(fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if !g.silent {
		g.log.Warn(fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if !g.silent {
		g.log.Error(fmt.Sprintf(msg, args...), nil, nil)
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Warn("Query failed", logger.Fields{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
			"error":      err.Error(),
		})
	case elapsed > slowQuery:
		sql, rows := fc()
		g.log.Warn("Slow query", logger.Fields{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	case g.log.Enabled(logger.LevelDebug):
		sql, rows := fc()
		g.log.Debug("Query", logger.Fields{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
		})
	}
}
