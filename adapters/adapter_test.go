package adapters

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrConcurrencyConflict", ErrConcurrencyConflict},
		{"ErrStreamNotFound", ErrStreamNotFound},
		{"ErrEmptyStreamID", ErrEmptyStreamID},
		{"ErrNoEvents", ErrNoEvents},
		{"ErrEmptyEventType", ErrEmptyEventType},
		{"ErrInvalidVersion", ErrInvalidVersion},
		{"ErrAdapterClosed", ErrAdapterClosed},
		{"ErrStorageUnavailable", ErrStorageUnavailable},
		{"ErrEmptyKey", ErrEmptyKey},
	}

	for _, tt := range tests {
		t.Run(tt.name+" has occurrent prefix", func(t *testing.T) {
			assert.Contains(t, tt.err.Error(), "occurrent:")
		})

		t.Run(tt.name+" is distinct", func(t *testing.T) {
			for _, other := range tests {
				if tt.name != other.name {
					assert.False(t, errors.Is(tt.err, other.err),
						"%s should not match %s", tt.name, other.name)
				}
			}
		})
	}
}

func TestMetadata_IsEmpty(t *testing.T) {
	assert.True(t, Metadata{}.IsEmpty())
	assert.False(t, Metadata{Source: "com.fairtiq.guessGame"}.IsEmpty())
	assert.False(t, Metadata{CorrelationID: "corr-1"}.IsEmpty())
	assert.False(t, Metadata{Custom: map[string]string{"k": "v"}}.IsEmpty())
}
