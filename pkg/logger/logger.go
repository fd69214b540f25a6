package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Lol3rrr/cfuzz/config"
	"github.com/Lol3rrr/cfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// NewLogger builds the process logger. With telemetry enabled every record
// is mirrored to the OTLP log exporter as well.
func NewLogger(p LoggerParams) *zap.Logger {
	cfg := buildConfig(p.AppConfig.LogLevel)

	var opts []zap.Option
	if p.Telemetry != nil && p.Telemetry.GetLogger() != nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
		otelLogger := p.Telemetry.GetLogger()
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return newTelemetryCore(ctx, core, otelLogger, p.AppConfig.ServiceName)
		}))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		// an unusable sink, e.g. a bad output path
		return zap.NewExample()
	}
	if len(opts) > 0 {
		lg.Debug("mirroring logs to telemetry")
	}
	return lg
}

// buildConfig uses the console encoder up to info and JSON above.
func buildConfig(logLevel string) zap.Config {
	var level zapcore.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg
}

// telemetryCore writes through the wrapped core and emits the same entry as
// an OpenTelemetry log record.
type telemetryCore struct {
	zapcore.Core
	otel   log.Logger
	ctx    context.Context
	fields []log.KeyValue // accumulated by With
}

func newTelemetryCore(ctx context.Context, core zapcore.Core, otelLogger log.Logger, service string) *telemetryCore {
	return &telemetryCore{
		Core:   core,
		otel:   otelLogger,
		ctx:    ctx,
		fields: []log.KeyValue{log.String("service.name", service)},
	}
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *t
	clone.Core = t.Core.With(fields)
	clone.fields = appendFields(append([]log.KeyValue(nil), t.fields...), fields)
	return &clone
}

func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !t.Enabled(ent.Level) {
		return checked
	}
	return checked.AddCore(ent, t)
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	var rec log.Record
	rec.SetTimestamp(ent.Time)
	rec.SetObservedTimestamp(time.Now())
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverity(severity(ent.Level))
	rec.SetSeverityText(ent.Level.CapitalString())

	attrs := make([]log.KeyValue, 0, len(t.fields)+len(fields)+1)
	attrs = append(attrs, t.fields...)
	if ent.LoggerName != "" {
		attrs = append(attrs, log.String("logger.name", ent.LoggerName))
	}
	rec.AddAttributes(appendFields(attrs, fields)...)

	t.otel.Emit(t.ctx, rec)
	return nil
}

func severity(level zapcore.Level) log.Severity {
	switch {
	case level <= zapcore.DebugLevel:
		return log.SeverityDebug
	case level == zapcore.InfoLevel:
		return log.SeverityInfo
	case level == zapcore.WarnLevel:
		return log.SeverityWarn
	case level == zapcore.ErrorLevel:
		return log.SeverityError
	default:
		return log.SeverityFatal
	}
}

// appendFields converts zap fields into log attributes. Types without a
// direct counterpart are rendered with the map encoder.
func appendFields(dst []log.KeyValue, fields []zapcore.Field) []log.KeyValue {
	for _, f := range fields {
		switch f.Type {
		case zapcore.SkipType:
		case zapcore.BoolType:
			dst = append(dst, log.Bool(f.Key, f.Integer == 1))
		case zapcore.StringType:
			dst = append(dst, log.String(f.Key, f.String))
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
			zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			dst = append(dst, log.Int64(f.Key, f.Integer))
		case zapcore.DurationType:
			dst = append(dst, log.String(f.Key, time.Duration(f.Integer).String()))
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				dst = append(dst, log.String(f.Key, err.Error()))
			}
		default:
			enc := zapcore.NewMapObjectEncoder()
			f.AddTo(enc)
			dst = append(dst, log.String(f.Key, fmt.Sprint(enc.Fields[f.Key])))
		}
	}
	return dst
}
