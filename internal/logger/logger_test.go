package logger

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (suite *LoggerTestSuite) TestNewLogger() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)
	suite.NotNil(log.Logger)
}

func (suite *LoggerTestSuite) TestNewDevelopmentLogger() {
	log, err := NewDevelopmentLogger()
	suite.NoError(err)
	suite.NotNil(log)
	suite.NotNil(log.Logger)
}

func (suite *LoggerTestSuite) TestNewNopLogger() {
	log := NewNopLogger()
	suite.NotNil(log)

	// Should not panic and should not write anywhere
	log.Info("discarded")
}

func (suite *LoggerTestSuite) TestLoggerSync() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// Sync may return an error on some systems (e.g., when syncing stderr)
	// but it should not panic
	_ = log.Sync()
}

func (suite *LoggerTestSuite) TestLoggerSyncNilLogger() {
	log := &Logger{Logger: nil}

	err := log.Sync()
	suite.NoError(err)
}

func (suite *LoggerTestSuite) TestLoggerLogging() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// These should not panic
	log.Info("test info message")
	log.Debug("test debug message")
	log.Warn("test warn message")
	log.Error("test error message")
}

func (suite *LoggerTestSuite) TestLoggerWithFields() {
	log, err := NewLogger()
	suite.NoError(err)
	suite.NotNil(log)

	// Should not panic
	log.With(zap.String("symbol", "BTCUSDT"), zap.String("interval", "1m")).
		Info("test message with fields")
}
