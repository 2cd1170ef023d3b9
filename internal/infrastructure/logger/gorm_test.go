package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func newGormTestLogger(level gormlogger.LogLevel) (*GormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewGormLogger(zap.New(core), level), logs
}

func sqlCallback(sql string, rows int64) func() (string, int64) {
	return func() (string, int64) { return sql, rows }
}

func TestGormLogger_LogMode(t *testing.T) {
	gormLog, _ := newGormTestLogger(gormlogger.Info)

	clone := gormLog.LogMode(gormlogger.Warn)

	assert.Equal(t, gormlogger.Info, gormLog.logLevel)
	assert.Equal(t, gormlogger.Warn, clone.(*GormLogger).logLevel)
}

func TestGormLogger_InfoRespectsLevel(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Info)
	gormLog.Info(context.Background(), "migrated %d tables", 3)
	require.Len(t, logs.All(), 1)
	assert.Contains(t, logs.All()[0].Message, "migrated 3 tables")

	silenced, silencedLogs := newGormTestLogger(gormlogger.Silent)
	silenced.Info(context.Background(), "suppressed")
	assert.Empty(t, silencedLogs.All())
}

func TestGormLogger_Trace_Error(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Error)

	gormLog.Trace(context.Background(), time.Now(),
		sqlCallback("INSERT INTO vouchers DEFAULT VALUES", 0),
		errors.New("duplicate key value violates unique constraint"))

	require.Len(t, logs.All(), 1)
	entry := logs.All()[0]
	assert.Equal(t, "sql error", entry.Message)
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Contains(t, entry.ContextMap()["sql"], "INSERT INTO vouchers")
}

func TestGormLogger_Trace_RecordNotFoundIgnored(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Error)

	gormLog.Trace(context.Background(), time.Now(),
		sqlCallback("SELECT * FROM fiscal_connections WHERE id = $1", 0),
		gormlogger.ErrRecordNotFound)

	assert.Empty(t, logs.All())
}

func TestGormLogger_Trace_SlowQuery(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Warn)

	begin := time.Now().Add(-time.Second)
	gormLog.Trace(context.Background(), begin,
		sqlCallback("SELECT * FROM vouchers", 500), nil)

	require.Len(t, logs.All(), 1)
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Contains(t, entry.Message, "slow sql")
}

func TestGormLogger_Trace_NormalQuery(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Info)

	gormLog.Trace(context.Background(), time.Now(),
		sqlCallback("SELECT * FROM vouchers WHERE tenant_id = $1", 7), nil)

	require.Len(t, logs.All(), 1)
	entry := logs.All()[0]
	assert.Equal(t, "sql query", entry.Message)
	assert.Equal(t, int64(7), entry.ContextMap()["rows"])
}

func TestGormLogger_Trace_Silent(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Silent)

	gormLog.Trace(context.Background(), time.Now(),
		sqlCallback("SELECT 1", 1), nil)

	assert.Empty(t, logs.All())
}

func TestGormLogger_Trace_ContextCorrelation(t *testing.T) {
	gormLog, logs := newGormTestLogger(gormlogger.Info)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-42")
	ctx = context.WithValue(ctx, TenantIDKey, "tenant-7")

	gormLog.Trace(ctx, time.Now(),
		sqlCallback("SELECT * FROM vouchers", 1), nil)

	require.Len(t, logs.All(), 1)
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "tenant-7", fields["tenant_id"])
}

func TestMapGormLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected gormlogger.LogLevel
	}{
		{"silent", gormlogger.Silent},
		{"error", gormlogger.Error},
		{"warn", gormlogger.Warn},
		{"info", gormlogger.Info},
		{"debug", gormlogger.Info},
		{"unknown", gormlogger.Warn},
		{"", gormlogger.Warn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapGormLogLevel(tt.level))
		})
	}
}

func TestGormLoggerImplementsInterface(t *testing.T) {
	gormLog, _ := newGormTestLogger(gormlogger.Info)
	var _ gormlogger.Interface = gormLog
}
