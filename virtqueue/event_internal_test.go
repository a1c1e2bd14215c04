package virtqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedEvent(t *testing.T) {
	tests := []struct {
		name     string
		eventIdx uint16
		newIdx   uint16
		oldIdx   uint16
		expected bool
	}{
		{
			name:     "threshold just crossed",
			eventIdx: 5,
			newIdx:   6,
			oldIdx:   5,
			expected: true,
		},
		{
			name:     "threshold crossed mid-batch",
			eventIdx: 7,
			newIdx:   10,
			oldIdx:   5,
			expected: true,
		},
		{
			name:     "threshold not reached yet",
			eventIdx: 10,
			newIdx:   6,
			oldIdx:   5,
			expected: false,
		},
		{
			name:     "threshold already behind",
			eventIdx: 4,
			newIdx:   6,
			oldIdx:   5,
			expected: false,
		},
		{
			name:     "no progress",
			eventIdx: 5,
			newIdx:   5,
			oldIdx:   5,
			expected: false,
		},
		{
			name:     "crossed during index wraparound",
			eventIdx: 0xfffe,
			newIdx:   0x0001,
			oldIdx:   0xfffe,
			expected: true,
		},
		{
			name:     "not crossed during index wraparound",
			eventIdx: 0x0001,
			newIdx:   0x0001,
			oldIdx:   0xfffe,
			expected: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, needEvent(tt.eventIdx, tt.newIdx, tt.oldIdx))
		})
	}
}
