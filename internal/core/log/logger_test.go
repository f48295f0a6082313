package log

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	logger.Info("test")
	logger.Errorf("test %s", "arg")

	_, ok := logger.WithField("key", "value").(NopLogger)
	assert.True(t, ok)
	_, ok = logger.WithError(nil).(NopLogger)
	assert.True(t, ok)
	_, ok = logger.WithContext(context.Background()).(NopLogger)
	assert.True(t, ok)
}

type mockTestingT struct {
	logs []string
}

func (m *mockTestingT) Log(args ...interface{}) {
	m.logs = append(m.logs, args[0].(string))
}

func (m *mockTestingT) Logf(format string, args ...interface{}) {
	m.logs = append(m.logs, format)
}

func TestTestLogger(t *testing.T) {
	mock := &mockTestingT{}
	logger := NewTestLogger(mock)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warnf("warn %s", "formatted")
	logger.WithField("k", "v").Error("error message")

	require.Len(t, mock.logs, 4)
	assert.Equal(t, "[DEBUG]", mock.logs[0])
	assert.Contains(t, mock.logs[2], "[WARN]")
}

func TestLogrusLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	logger := NewLogrusLogger(l)

	logger.WithFields(map[string]interface{}{"k1": "v1", "k2": "v2"}).Info("with fields")
	output := buf.String()
	assert.Contains(t, output, "k1=v1")
	assert.Contains(t, output, "k2=v2")

	buf.Reset()
	ForSession(logger, "628100:bot").Info("session line")
	assert.Contains(t, buf.String(), "session=\"628100:bot\"")
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	require.NotNil(t, original)

	nop := NewNopLogger()
	SetDefault(nop)
	assert.Equal(t, nop, Default())
	assert.Equal(t, nop, OrDefault(nil))

	SetDefault(original)
}

func TestSetup(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	assert.Error(t, Setup(Config{Level: "loud"}))
	assert.Error(t, Setup(Config{Format: "xml"}))
	assert.Error(t, Setup(Config{Output: OutputFile}))

	path := filepath.Join(t.TempDir(), "sessionmux.log")
	require.NoError(t, Setup(Config{Level: "debug", Format: FormatJSON, Output: OutputFile, File: path}))

	Default().WithField("component", "test").Debugf("written %d", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "\"component\":\"test\""))
}
