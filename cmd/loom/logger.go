package main

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	grey          = "\033[38;5;240m"
	boldLightGrey = "\033[1;38;5;240m"
	red           = "\033[38;5;9m"
	yellow        = "\033[38;5;11m"
	reset         = "\033[0m"
)

// fullLineColorLevelEncoder colors the entire output line based on level.
func fullLineColorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var color string
	switch l {
	case zapcore.DebugLevel:
		color = grey
	case zapcore.InfoLevel:
		color = boldLightGrey
	case zapcore.WarnLevel:
		color = yellow
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		color = red
	default:
		color = reset
	}
	enc.AppendString(color + l.CapitalString())
}

// NewLogger creates a console zap logger on stderr. Level defaults to
// Warn, raised to Info by verbose and Debug by debug.
func NewLogger(stderr io.Writer, verbose, debug bool) (*zap.SugaredLogger, error) {
	if stderr == nil {
		stderr = os.Stderr
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = ""
	encoderCfg.LevelKey = "L"
	encoderCfg.NameKey = "N"
	encoderCfg.FunctionKey = ""
	encoderCfg.MessageKey = "M"
	encoderCfg.StacktraceKey = "S"
	encoderCfg.LineEnding = reset + zapcore.DefaultLineEnding
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder
	encoderCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encoderCfg.ConsoleSeparator = " "
	encoderCfg.EncodeLevel = fullLineColorLevelEncoder

	level := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		level.SetLevel(zapcore.InfoLevel)
	}
	var loggerOpts []zap.Option
	if debug {
		level.SetLevel(zapcore.DebugLevel)
		encoderCfg.CallerKey = "C"
		loggerOpts = append(loggerOpts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(stderr),
		level,
	)
	return zap.New(core, loggerOpts...).Sugar(), nil
}
