package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/Tsukikage7/orderflow/logger"
)

type gormDatabase struct {
	db     *gorm.DB
	config *Config
	log    logger.Logger
}

func openGORM(config *Config, log logger.Logger) (Database, error) {
	dialector, err := dialectorFor(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newSQLLogger(log, config.SlowThreshold, config.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("database: 打开 %s 失败: %w", config.Driver, err)
	}

	if config.EnableTracing {
		if err = db.Use(tracing.NewPlugin()); err != nil {
			return nil, errors.Join(ErrRegisterTracingPlugin, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if isMemorySQLite(config) {
		// 内存库随连接销毁，只保留一个常驻连接.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(config.Pool.MaxOpen)
		sqlDB.SetMaxIdleConns(config.Pool.MaxIdle)
		sqlDB.SetConnMaxLifetime(config.Pool.MaxLifetime)
		sqlDB.SetConnMaxIdleTime(config.Pool.MaxIdleTime)
	}

	log.Debugf("[database] 已连接: driver=%s", config.Driver)
	return &gormDatabase{db: db, config: config, log: log}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverPostgres, DriverPostgreSQL:
		return postgres.Open(dsn), nil
	case DriverSQLite, DriverSQLite3:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
}

func isMemorySQLite(config *Config) bool {
	return (config.Driver == DriverSQLite || config.Driver == DriverSQLite3) &&
		strings.Contains(config.DSN, ":memory:")
}

func (g *gormDatabase) GORM() *gorm.DB {
	return g.db
}

func (g *gormDatabase) AutoMigrate(models ...any) error {
	if !g.config.AutoMigrate {
		g.log.Debug("[database] 自动迁移已禁用")
		return nil
	}
	if err := g.db.AutoMigrate(models...); err != nil {
		g.log.With(logger.Err(err)).Error("[database] 自动迁移失败")
		return err
	}
	return nil
}

func (g *gormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqlLogger 将 GORM 日志转发到 logger.Logger.
type sqlLogger struct {
	log           logger.Logger
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

func newSQLLogger(log logger.Logger, slowThreshold time.Duration, level string) gormlogger.Interface {
	l := gormlogger.Warn
	switch level {
	case "silent":
		l = gormlogger.Silent
	case "error":
		l = gormlogger.Error
	case "info":
		l = gormlogger.Info
	}
	return &sqlLogger{log: log, slowThreshold: slowThreshold, level: l}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.WithContext(ctx).Infof(msg, data...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.WithContext(ctx).Warnf(msg, data...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.WithContext(ctx).Errorf(msg, data...)
	}
}

func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	log := l.log.WithContext(ctx).With(
		logger.Duration("elapsed", elapsed),
		logger.Int64("rows", rows),
		logger.String("sql", sql),
	)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		log.With(logger.Err(err)).Error("[database] SQL 执行失败")
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		log.Warn("[database] 慢查询")
	case l.level >= gormlogger.Info:
		log.Debug("[database] SQL 执行成功")
	}
}
