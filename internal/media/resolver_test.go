package media

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s, err := New(Config{
		Endpoint:  "http://localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "vantage-media",
	})
	require.NoError(t, err)
	assert.NotNil(t, s.client)
}

func TestClassifyStatError(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected error
	}{
		{"missing key", "NoSuchKey", ErrNotFound},
		{"missing bucket", "NoSuchBucket", ErrNotFound},
		{"access denied", "AccessDenied", ErrExpired},
		{"expired token", "ExpiredToken", ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatError(minio.ErrorResponse{Code: tt.code})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestClassifyStatError_Passthrough(t *testing.T) {
	err := classifyStatError(minio.ErrorResponse{Code: "SlowDown", Message: "throttled"})
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrExpired)
}
