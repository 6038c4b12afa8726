package zaplog

import (
	"sort"

	"github.com/AnishMulay/kfsaccess/internal/log_service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogService adapts a zap logger to the LogService interface. Metadata
// keys become structured fields.
type ZapLogService struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

func NewZapLogService(nodeID string, minLogLevel string) (*ZapLogService, error) {
	level := zap.NewAtomicLevelAt(toZapLevel(minLogLevel))

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &ZapLogService{
		logger: logger.With(zap.String("node", nodeID)),
		level:  level,
	}, nil
}

// NewFromLogger wraps an existing logger, e.g. zap.NewNop() in tests.
func NewFromLogger(logger *zap.Logger) *ZapLogService {
	return &ZapLogService{
		logger: logger,
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func NewNop() *ZapLogService {
	return NewFromLogger(zap.NewNop())
}

// Logger exposes the underlying logger for libraries that take one directly.
func (z *ZapLogService) Logger() *zap.Logger {
	return z.logger
}

func (z *ZapLogService) SetMinLogLevel(level string) {
	z.level.SetLevel(toZapLevel(level))
}

func (z *ZapLogService) Sync() error {
	return z.logger.Sync()
}

func toZapLevel(level string) zapcore.Level {
	switch log_service.GetLevelValue(level) {
	case log_service.InfoLevelValue:
		return zapcore.InfoLevel
	case log_service.WarnLevelValue:
		return zapcore.WarnLevel
	case log_service.ErrorLevelValue:
		return zapcore.ErrorLevel
	default:
		return zapcore.DebugLevel
	}
}

func fields(event log_service.LogEvent) []zap.Field {
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys)+1)
	if !event.Timestamp.IsZero() {
		out = append(out, zap.Time("eventTime", event.Timestamp))
	}
	for _, k := range keys {
		out = append(out, zap.Any(k, event.Metadata[k]))
	}
	return out
}

func (z *ZapLogService) Debug(event log_service.LogEvent) {
	z.logger.Debug(event.Message, fields(event)...)
}

func (z *ZapLogService) Info(event log_service.LogEvent) {
	z.logger.Info(event.Message, fields(event)...)
}

func (z *ZapLogService) Warn(event log_service.LogEvent) {
	z.logger.Warn(event.Message, fields(event)...)
}

func (z *ZapLogService) Error(event log_service.LogEvent) {
	z.logger.Error(event.Message, fields(event)...)
}

var _ log_service.LogService = (*ZapLogService)(nil)
