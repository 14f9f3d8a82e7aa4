package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidSymbol, "invalid symbol: %s", "???")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidSymbol, err.Code)
	suite.Equal("invalid symbol: ???", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeConnectionFailed, "handshake failed", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeConnectionFailed, err.Code)
	suite.Equal("handshake failed", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeSeedFetchFailed, cause, "seed fetch failed for symbol: %s", "BTCUSDT")
	suite.NotNil(err)
	suite.Equal(ErrCodeSeedFetchFailed, err.Code)
	suite.Equal("seed fetch failed for symbol: BTCUSDT", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeConnectionFailed, "handshake failed", cause)
	suite.Equal("[200] handshake failed: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeConnectionClosed, "session closed", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeNotConnected, "not connected")
	suite.Equal(ErrCodeNotConnected, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeSendFailed, "write failed")
	err := Wrap(ErrCodeSubscribeFailed, "subscribe dispatch failed", cause)
	// GetCode should return the outermost error's code
	suite.Equal(ErrCodeSubscribeFailed, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromPlainError() {
	err := errors.New("standard error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeCorrelationMismatch, "unknown reply id")
	suite.True(HasCode(err, ErrCodeCorrelationMismatch))
	suite.False(HasCode(err, ErrCodeConnectionClosed))
}

func (suite *ErrorTestSuite) TestIsError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeConnectionFailed, "handshake failed", cause)
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	var streamErr *Error
	suite.True(As(err, &streamErr))
	suite.Equal(ErrCodeInvalidParameter, streamErr.Code)
}

func (suite *ErrorTestSuite) TestErrorCodeValues() {
	// Verify some key error codes have expected values
	suite.Equal(ErrorCode(1), ErrCodeUnknown)
	suite.Equal(ErrorCode(100), ErrCodeInvalidParameter)
	suite.Equal(ErrorCode(200), ErrCodeConnectionFailed)
	suite.Equal(ErrorCode(300), ErrCodeCorrelationMismatch)
	suite.Equal(ErrorCode(400), ErrCodeSubscribeFailed)
	suite.Equal(ErrorCode(500), ErrCodeSeedFetchFailed)
	suite.Equal(ErrorCode(600), ErrCodeProviderRejected)
}

func (suite *ErrorTestSuite) TestProviderError() {
	err := &ProviderError{
		ProviderCode: 4001,
		Symbol:       "BTCUSDT",
		Message:      "invalid subscription request",
	}
	suite.Equal("invalid subscription request", err.Error())
	suite.Equal(4001, err.ProviderCode)
	suite.Equal("BTCUSDT", err.Symbol)
}

func (suite *ErrorTestSuite) TestNewProviderError() {
	err := NewProviderError(429, "ETHUSDT", "too many subscriptions")
	suite.NotNil(err)
	suite.Equal(429, err.ProviderCode)
	suite.Equal("ETHUSDT", err.Symbol)
	suite.Equal("too many subscriptions", err.Message)
}

func (suite *ErrorTestSuite) TestNewProviderErrorf() {
	err := NewProviderErrorf(2, "BTCUSDT", "provider rejected request: code %d", 2)
	suite.NotNil(err)
	suite.Equal(2, err.ProviderCode)
	suite.Equal("provider rejected request: code 2", err.Message)
}

func (suite *ErrorTestSuite) TestIsProviderError() {
	providerErr := NewProviderError(2, "BTCUSDT", "rejected")
	suite.True(IsProviderError(providerErr))

	stdErr := errors.New("standard error")
	suite.False(IsProviderError(stdErr))

	streamErr := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.False(IsProviderError(streamErr))

	suite.False(IsProviderError(nil))
}

func (suite *ErrorTestSuite) TestIsProviderErrorWrapped() {
	cause := NewProviderError(2, "BTCUSDT", "rejected")
	err := Wrap(ErrCodeProviderRejected, "subscribe rejected", cause)
	suite.True(IsProviderError(err))
}
