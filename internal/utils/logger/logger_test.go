package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLevelForEnvironment(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, levelForEnvironment("dev"))
	assert.Equal(t, zerolog.TraceLevel, levelForEnvironment("test"))
	assert.Equal(t, zerolog.InfoLevel, levelForEnvironment("prod"))
	assert.Equal(t, zerolog.InfoLevel, levelForEnvironment("staging"))
}

func TestSugar_BeforeInit(t *testing.T) {
	Logger = nil
	assert.NotPanics(t, func() {
		Sugar().Infow("noop", "k", 1)
	})
}
