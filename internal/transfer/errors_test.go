package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err: &NetworkError{
				Operation:  "fetch",
				URL:        "https://cdn.example.com/ep1.mp3",
				StatusCode: 503,
			},
			want: "network error during fetch of https://cdn.example.com/ep1.mp3 (HTTP 503)",
		},
		{
			name: "without HTTP status code",
			err: &NetworkError{
				Operation: "fetch",
				URL:       "https://cdn.example.com/ep1.mp3",
				Err:       errors.New("connection timeout"),
			},
			want: "network error during fetch of https://cdn.example.com/ep1.mp3: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &NetworkError{Operation: "fetch", Err: inner}

	require.ErrorIs(t, err, inner)
}

func TestStorageError_Error(t *testing.T) {
	err := &StorageError{Path: "/cache/ep1.mp3", Reason: "failed to delete cached file"}

	assert.Equal(t, "storage error for '/cache/ep1.mp3': failed to delete cached file", err.Error())
}

func TestStorageError_Unwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := &StorageError{Path: "/cache", Reason: "mkdir", Err: inner}

	require.ErrorIs(t, err, inner)
}

func TestFileRef_IsLocal(t *testing.T) {
	assert.False(t, FileRef{URL: "https://cdn.example.com/ep1.mp3"}.IsLocal())
	assert.True(t, FileRef{URL: "https://cdn.example.com/ep1.mp3", LocalPath: "/cache/ep1.mp3"}.IsLocal())
}
