package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// LoggerTestSuite logger 测试套件.
type LoggerTestSuite struct {
	suite.Suite
	tmpDir string
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (s *LoggerTestSuite) SetupTest() {
	s.tmpDir = s.T().TempDir()
}

func (s *LoggerTestSuite) TestNewLogger_NilConfig() {
	log, err := NewLogger(nil)
	s.Error(err)
	s.Nil(log)
}

func (s *LoggerTestSuite) TestNewLogger_DefaultConfig() {
	log, err := NewLogger(DefaultConfig())
	s.Require().NoError(err)
	s.NotNil(log)
	s.NoError(log.Close())
}

func (s *LoggerTestSuite) TestNewLogger_DevConfig() {
	log, err := NewLogger(NewDevConfig())
	s.Require().NoError(err)
	s.NoError(log.Close())
}

func (s *LoggerTestSuite) TestNewLogger_InvalidConfig() {
	cases := map[string]*Config{
		"level":  {Level: "verbose"},
		"format": {Format: "xml"},
		"output": {Output: "syslog"},
		"file":   {Output: OutputFile},
	}

	for name, cfg := range cases {
		log, err := NewLogger(cfg)
		s.Error(err, name)
		s.Nil(log, name)

		var cfgErr *ConfigError
		s.True(errors.As(err, &cfgErr), name)
	}
}

func (s *LoggerTestSuite) TestNewLogger_WarningAlias() {
	log, err := NewLogger(&Config{Level: "warning"})
	s.Require().NoError(err)
	s.NoError(log.Close())
}

func (s *LoggerTestSuite) TestNewLogger_FileOutput() {
	path := filepath.Join(s.tmpDir, "orderflow.log")
	log, err := NewLogger(&Config{Output: OutputFile, FilePath: path})
	s.Require().NoError(err)

	log.With(String("queue", "orders.express")).Info("[worker] started")
	s.NoError(log.Close())

	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	s.Contains(string(data), `"queue":"orders.express"`)
	s.Contains(string(data), `"service":"orderflow"`)
}

func (s *LoggerTestSuite) TestWith_Fields() {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.With(
		String("queue", "orders.standard"),
		Int("prefetch", 1),
		Uint64("tag", 7),
		Duration("elapsed", time.Second),
		Err(errors.New("boom")),
		Any("meta", map[string]string{"worker_id": "w1"}),
	).Warn("[worker] processing failed")

	s.Require().Equal(1, logs.Len())
	entry := logs.All()[0]
	s.Equal("[worker] processing failed", entry.Message)

	fields := entry.ContextMap()
	s.Equal("orders.standard", fields["queue"])
	s.EqualValues(1, fields["prefetch"])
	s.EqualValues(7, fields["tag"])
	s.Equal("boom", fields["error"])
}

func (s *LoggerTestSuite) TestWithContext_NoSpan() {
	core, logs := observer.New(zapcore.InfoLevel)
	log := FromZap(zap.New(core))

	log.WithContext(context.Background()).Info("plain")

	s.Require().Equal(1, logs.Len())
	s.NotContains(logs.All()[0].ContextMap(), "traceId")
}

func (s *LoggerTestSuite) TestWithContext_Span() {
	core, logs := observer.New(zapcore.InfoLevel)
	log := FromZap(zap.New(core))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.WithContext(ctx).Info("traced")

	s.Require().Equal(1, logs.Len())
	fields := logs.All()[0].ContextMap()
	s.Equal("4bf92f3577b34da6a3ce929d0e0e4736", fields["traceId"])
	s.Equal("00f067aa0ba902b7", fields["spanId"])
}

func (s *LoggerTestSuite) TestNop() {
	log := Nop()
	log.Info("discarded")
	s.NoError(log.Close())
}

func (s *LoggerTestSuite) TestMustNewLogger_Panics() {
	s.Panics(func() {
		MustNewLogger(&Config{Level: "invalid"})
	})
}
