package log

import (
	"os"
	"path"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogFileName is the log file name
	LogFileName = "dbcluster.log"
	// LogFileMaxSize is the max size of log file
	LogFileMaxSize int = 100 //mb
	// LogMaxBackups is the max backup count of log file
	LogMaxBackups = 20
	// LogMaxAge is the max time to save log file
	LogMaxAge = 28 //days
)

// Log is global var of log. It discards everything until InitLogger is
// called, so the cluster stays silent when embedded in another program.
var Log = zap.NewNop().Sugar()

// Logger is global var of zap log
var Logger = zap.NewNop()

func CallerEncoder(caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(strings.Join([]string{caller.TrimmedPath()}, ":"))
}

// InitLogger initializer the log.
func InitLogger(logDir string, logLevel string) error {
	var level zapcore.Level

	if logDir == "" {
		logDir = "./logs"
	}
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}
	if err := level.Set(logLevel); err != nil {
		return err
	}

	logFileName := path.Join(logDir, LogFileName)
	writer := &lumberjack.Logger{
		Filename:   logFileName,
		MaxSize:    LogFileMaxSize,
		MaxAge:     LogMaxAge,
		MaxBackups: LogMaxBackups,
		LocalTime:  true,
	}
	if err := writer.Rotate(); err != nil {
		return err
	}

	SetCore(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.AddSync(writer),
		level,
	))
	return nil
}

// SetCore replaces the global loggers with ones writing to core.
func SetCore(core zapcore.Core) {
	Logger = zap.New(core, zap.AddCaller())
	zap.RedirectStdLog(Logger)
	Log = Logger.Sugar()
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionConfig().EncoderConfig
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeCaller = CallerEncoder
	return cfg
}

func UnInitLoggers() {
	// syncing a console or nop core may fail harmlessly
	_ = Log.Sync()
}

// Writer adapts the logger to io.Writer for libraries that log through one.
type Writer struct {
	LogFunc func(msg string, fields ...zapcore.Field)
}

func NewWriter() *Writer {
	return &Writer{LogFunc: Logger.WithOptions(
		zap.AddCallerSkip(2 + 2),
	).Info}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.LogFunc(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
