package logger

import (
	"bytes"
	"testing"

	"github.com/metrico/expsql/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := config.Default()
	cfg.Log.Json = true
	cfg.Log.Level = "debug"
	InitLogger(cfg, buf)
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	WithFields(logrus.Fields{"dialect": "postgres"}).Debug("query built")
	assert.Contains(t, buf.String(), `"dialect":"postgres"`)
	assert.Contains(t, buf.String(), `"msg":"query built"`)

	SetLoggerLevel("verbose")
	assert.Equal(t, logrus.ErrorLevel, Logger.GetLevel())
	assert.Contains(t, buf.String(), `"msg":"Couldn't parse loglevel verbose"`)
}

func TestLevelHelpers(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := config.Default()
	cfg.Log.Json = true
	cfg.Log.Level = "warn"
	InitLogger(cfg, buf)

	Debug("hidden debug")
	Info("hidden info")
	Warn("shown ", "warn")
	Error("shown error")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"level":"warning","msg":"shown warn"`)
	assert.Contains(t, out, `"level":"error","msg":"shown error"`)
}
