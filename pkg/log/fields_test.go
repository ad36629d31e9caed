package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"pairs", []any{"device_code", "ABC123", "battery", 80, "tracking", true}, []string{"device_code", "battery", "tracking"}},
		{"time and duration", []any{"at", now, "interval", 30 * time.Second}, []string{"at", "interval"}},
		{"bare error", []any{err}, []string{"error"}},
		{"passthrough field", []any{zap.String("x", "y"), "lat", 40.0}, []string{"x", "lat"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			var keys []string
			for _, f := range fields {
				assert.NotEmpty(t, f.Key)
				keys = append(keys, f.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Format = "xml"
	opts.Level = "loud"
	assert.Len(t, opts.Validate(), 2)
}
