package ports

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStoreError verifies message formatting and unwrapping of StoreError.
func TestStoreError(t *testing.T) {
	tests := []struct {
		name      string
		entity    string
		operation string
		err       error
		wantMsg   string
	}{
		{
			name:      "closed store",
			entity:    "experiment",
			operation: "CreateExperiment",
			err:       ErrStoreClosed,
			wantMsg:   "store error: operation=CreateExperiment, entity=experiment, err=store closed",
		},
		{
			name:      "wrapped driver error",
			entity:    "iteration_result",
			operation: "SaveRowResult",
			err:       errors.New("txn too big"),
			wantMsg:   "store error: operation=SaveRowResult, entity=iteration_result, err=txn too big",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStoreError(tt.entity, tt.operation, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error())
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestTrackingError(t *testing.T) {
	err := NewTrackingError("influx", ErrTrackingUnavailable)

	assert.Equal(t, "tracking error: backend=influx, err=tracking unavailable", err.Error())
	assert.True(t, errors.Is(err, ErrTrackingUnavailable))

	var target *TrackingError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "influx", target.Backend)
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("tracking.influx.url", ErrConfigNotFound)

	assert.Equal(t, "config error: key=tracking.influx.url, err=configuration not found", err.Error())
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}
