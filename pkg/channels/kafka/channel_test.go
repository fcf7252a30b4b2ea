package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{name: "empty", raw: "", expected: []string{}},
		{name: "single", raw: "localhost:9092", expected: []string{"localhost:9092"}},
		{name: "spaces and blanks", raw: " a:9092, ,b:9092 ", expected: []string{"a:9092", "b:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, ParseBrokers(tt.raw))
		})
	}
}

func TestCreateChannelWithoutBrokers(t *testing.T) {
	t.Parallel()

	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "loom")
	require.ErrorIs(t, err, ErrNoBrokers)
}
