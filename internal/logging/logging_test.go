package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New("warn", format)
		require.NoError(t, err, format)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel), format)
		assert.True(t, logger.Core().Enabled(zap.ErrorLevel), format)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", "json")
	assert.Error(t, err)
}
