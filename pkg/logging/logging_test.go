package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.EqualError(t, err, `logging: unknown format "xml"`)
}

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://app:s3cret@db:5432/app?sslmode=disable", "postgres://app:***@db:5432/app?sslmode=disable"},
		{"postgres://app@db/app", "postgres://app@db/app"},
		{"postgres://db/app?password=s3cret&sslmode=require", "postgres://db/app?password=***&sslmode=require"},
		{"host=db user=app password=s3cret dbname=app", "host=db user=app password=*** dbname=app"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskDSN(tt.in))
		})
	}
}

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dial postgres://app:s3cret@db:5432/app failed", "dial postgres://app:***@db:5432/app failed"},
		{"Authorization: Bearer eyJhbGciOi.abc.def", "Authorization: Bearer ***"},
		{"url?apikey=abc123&x=1", "url?apikey=***&x=1"},
		{"password=hunter2;", "password=***;"},
		{"nothing to hide", "nothing to hide"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSecrets(tt.in))
		})
	}
}
