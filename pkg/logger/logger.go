// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

type ctxKey string

// RequestIDKey 请求ID的上下文键
const RequestIDKey ctxKey = "request_id"

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}
	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// OptimizerLogger 优化引擎专用日志器
type OptimizerLogger struct {
	base *zerolog.Logger
}

// NewOptimizerLogger 创建优化引擎日志器
func NewOptimizerLogger() *OptimizerLogger {
	l := Get().With().Str("component", "optimizer").Logger()
	return &OptimizerLogger{base: &l}
}

// With 返回附带字段的日志器
func (l *OptimizerLogger) With(key, value string) *OptimizerLogger {
	child := l.base.With().Str(key, value).Logger()
	return &OptimizerLogger{base: &child}
}

// StartRun 记录运行开始
func (l *OptimizerLogger) StartRun(runID, scope string, phases int, dryRun bool) {
	l.base.Info().
		Str("run_id", runID).
		Str("scope", scope).
		Int("phases", phases).
		Bool("dry_run", dryRun).
		Msg("开始优化运行")
}

// PhaseComplete 记录阶段完成
func (l *OptimizerLogger) PhaseComplete(phase, solver string, assigned, unmet int, duration time.Duration) {
	l.base.Info().
		Str("phase", phase).
		Str("solver", solver).
		Int("assigned", assigned).
		Int("unmet", unmet).
		Dur("duration", duration).
		Msg("阶段完成")
}

// Fallback 记录降级到启发式求解
func (l *OptimizerLogger) Fallback(phase, status string) {
	l.base.Warn().
		Str("phase", phase).
		Str("status", status).
		Msg("精确求解未得到最优解，降级到启发式")
}

// InputSkipped 记录被跳过的输入
func (l *OptimizerLogger) InputSkipped(source, recordID, reason string) {
	l.base.Warn().
		Str("source", source).
		Str("record_id", recordID).
		Str("reason", reason).
		Msg("输入记录无效，已跳过")
}

// ConstraintViolation 记录约束违反
func (l *OptimizerLogger) ConstraintViolation(constraint, details string) {
	l.base.Warn().
		Str("constraint", constraint).
		Str("details", details).
		Msg("约束违反")
}

// RunComplete 记录运行完成
func (l *OptimizerLogger) RunComplete(runID string, duration time.Duration, score float64) {
	l.base.Info().
		Str("run_id", runID).
		Dur("duration", duration).
		Float64("score", score).
		Msg("优化运行完成")
}

// RunFailed 记录运行失败
func (l *OptimizerLogger) RunFailed(runID, phase string, err error) {
	l.base.Error().
		Err(err).
		Str("run_id", runID).
		Str("phase", phase).
		Msg("优化运行失败")
}
