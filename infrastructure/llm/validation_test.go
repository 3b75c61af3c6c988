package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{in: "", want: ""},
		{in: "https://proxy.internal/v1", want: "https://proxy.internal/v1"},
		{in: "http://localhost:8080", want: "http://localhost:8080"},
		{in: "ftp://proxy.internal", wantErr: "scheme must be http or https"},
		{in: "proxy.internal/v1", wantErr: "scheme must be http or https"},
		{in: "https://", wantErr: "has no host"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateBaseURL(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientTimeout(t *testing.T) {
	assert.Equal(t, time.Duration(0), clientTimeout(0))
	assert.Equal(t, time.Duration(0), clientTimeout(-time.Second))
	assert.Equal(t, MinTimeout, clientTimeout(time.Millisecond))
	assert.Equal(t, 30*time.Second, clientTimeout(30*time.Second))
	assert.Equal(t, MaxTimeout, clientTimeout(time.Hour))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, clamp(1.7, MinTemperature, AnthropicMaxTemperature))
	assert.Equal(t, 0.0, clamp(-0.3, MinTopP, MaxTopP))
	assert.Equal(t, MaxGeminiTopK, clamp(100, 1, MaxGeminiTopK))
	assert.True(t, inRange(2.0, MinTemperature, MaxTemperature))
	assert.False(t, inRange(2.1, MinTemperature, MaxTemperature))
}
