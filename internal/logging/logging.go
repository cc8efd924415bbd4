package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields 结构化日志字段
type Fields map[string]any

// Level 日志级别
type Level = logrus.Level

const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// Logger 分析流程使用的日志接口
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(err error, msg string, fields ...Fields)
	WithFields(fields Fields) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

var (
	base   = newBase(os.Stderr)
	global Logger = &logrusLogger{entry: logrus.NewEntry(base)}
)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// New 创建写入指定输出的日志器
func New(out io.Writer, level Level) Logger {
	l := newBase(out)
	l.SetLevel(level)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

// SetLevel 设置全局日志级别
func SetLevel(level Level) {
	base.SetLevel(level)
}

// ParseLevel 解析命令行传入的日志级别
func ParseLevel(s string) (Level, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("无效的日志级别 %q: %w", s, err)
	}
	return level, nil
}

func (l *logrusLogger) with(fields []Fields) *logrus.Entry {
	entry := l.entry
	for _, f := range fields {
		entry = entry.WithFields(logrus.Fields(f))
	}
	return entry
}

func (l *logrusLogger) Debug(msg string, fields ...Fields) {
	l.with(fields).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields ...Fields) {
	l.with(fields).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields ...Fields) {
	l.with(fields).Warn(msg)
}

func (l *logrusLogger) Error(err error, msg string, fields ...Fields) {
	l.with(fields).WithError(err).Error(msg)
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// 包级辅助函数，供各分析阶段使用

func Debug(msg string, fields ...Fields) { global.Debug(msg, fields...) }

func Info(msg string, fields ...Fields) { global.Info(msg, fields...) }

func Warn(msg string, fields ...Fields) { global.Warn(msg, fields...) }

func Error(err error, msg string, fields ...Fields) { global.Error(err, msg, fields...) }

func WithFields(fields Fields) Logger { return global.WithFields(fields) }
