package logger

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/metrico/expsql/config"
	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

var rLogs *rotatelogs.RotateLogs

// InitLogger configures the package logger. A non-nil output wins over the
// settings.
func InitLogger(cfg *config.Config, output io.Writer) {
	if cfg.Log.Json {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: false,
			DisableColors:    true,
		})
	}

	switch {
	case output != nil:
		Logger.SetOutput(output)
		log.SetOutput(output)
	case cfg.Log.Stdout:
		Logger.SetOutput(os.Stdout)
		log.SetOutput(os.Stdout)
	case cfg.Log.Path != "":
		configureLocalFileSystemHook(cfg)
	}

	/* log level default */
	if cfg.Log.Level == "" {
		cfg.Log.Level = "error"
	}
	SetLoggerLevel(cfg.Log.Level)

	Info("init logging system")
}

// SetLoggerLevel falls back to error on an unknown level.
func SetLoggerLevel(loglevelString string) {
	if logLevel, err := logrus.ParseLevel(loglevelString); err == nil {
		Logger.SetLevel(logLevel)
	} else {
		Error("Couldn't parse loglevel ", loglevelString)
		Logger.SetLevel(logrus.ErrorLevel)
	}
}

func configureLocalFileSystemHook(cfg *config.Config) {
	logName := cfg.Log.Name
	if logName == "" {
		logName = "expsql.log"
	}
	fileLogExtension := filepath.Ext(logName)
	fileLogBase := strings.TrimSuffix(logName, fileLogExtension)

	pathAllLog := filepath.Join(cfg.Log.Path, fileLogBase+"_%Y%m%d%H%M"+fileLogExtension)
	pathLog := filepath.Join(cfg.Log.Path, logName)

	var err error
	rLogs, err = rotatelogs.New(
		pathAllLog,
		rotatelogs.WithLinkName(pathLog),
		rotatelogs.WithMaxAge(time.Duration(cfg.Log.MaxAgeDays)*24*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(cfg.Log.RotationHours)*time.Hour),
	)
	if err != nil {
		Error("Local file system hook initialize fail: ", err)
		return
	}

	Logger.SetOutput(rLogs)
	log.SetOutput(rLogs)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

func Info(args ...interface{}) {
	Logger.Info(args...)
}

func Warn(args ...interface{}) {
	Logger.Warn(args...)
}

func Error(args ...interface{}) {
	Logger.Error(args...)
}

func Debug(args ...interface{}) {
	Logger.Debug(args...)
}
