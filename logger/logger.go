package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger = zap.NewNop()

type Config struct {
	Level       string
	Development bool
}

func Init(conf Config) error {
	var zconf zap.Config
	if conf.Development {
		zconf = zap.NewDevelopmentConfig()
	} else {
		zconf = zap.NewProductionConfig()
		zconf.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if len(conf.Level) > 0 {
		level, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		zconf.Level = zap.NewAtomicLevelAt(level)
	}
	l, err := zconf.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	log = l
	return nil
}

// Use replaces the process logger, mainly for tests.
func Use(l *zap.Logger) {
	log = l.WithOptions(zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...zap.Field) {
	log.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

func Sync() error {
	return log.Sync()
}
