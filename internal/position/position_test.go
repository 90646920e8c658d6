package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssign(t *testing.T) {
	tests := []struct {
		name      string
		deviceID  string
		occupancy map[Position]string
		persisted *Entry
		expected  Position
	}{
		{
			name:      "no history, empty occupancy gets first slot",
			deviceID:  "aa:01",
			occupancy: map[Position]string{},
			expected:  LeftShoe,
		},
		{
			name:     "no history, first slot taken gets second",
			deviceID: "aa:02",
			occupancy: map[Position]string{
				LeftShoe: "aa:01",
			},
			expected: RightShoe,
		},
		{
			name:     "no history, two taken gets third",
			deviceID: "aa:03",
			occupancy: map[Position]string{
				LeftShoe:  "aa:01",
				RightShoe: "aa:02",
			},
			expected: Racket,
		},
		{
			name:     "all occupied returns None",
			deviceID: "aa:04",
			occupancy: map[Position]string{
				LeftShoe:  "aa:01",
				RightShoe: "aa:02",
				Racket:    "aa:03",
			},
			expected: None,
		},
		{
			name:      "sticky restore beats arrival order",
			deviceID:  "aa:05",
			occupancy: map[Position]string{},
			persisted: &Entry{DeviceID: "aa:05", Position: RightShoe},
			expected:  RightShoe,
		},
		{
			name:     "remembered position occupied by another device falls through",
			deviceID: "aa:06",
			occupancy: map[Position]string{
				RightShoe: "aa:02",
			},
			persisted: &Entry{DeviceID: "aa:06", Position: RightShoe},
			expected:  LeftShoe,
		},
		{
			name:     "remembered racket vacant while earlier slots free",
			deviceID: "aa:07",
			occupancy: map[Position]string{
				RightShoe: "aa:02",
			},
			persisted: &Entry{DeviceID: "aa:07", Position: Racket},
			expected:  Racket,
		},
		{
			name:      "persisted None behaves as no history",
			deviceID:  "aa:08",
			occupancy: map[Position]string{},
			persisted: &Entry{DeviceID: "aa:08", Position: None},
			expected:  LeftShoe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assign(tt.deviceID, tt.occupancy, tt.persisted)
			assert.Equal(t, tt.expected, got)

			// Deterministic given the same snapshot
			assert.Equal(t, got, Assign(tt.deviceID, tt.occupancy, tt.persisted))
		})
	}
}

func TestAssignSequentialConnectionOrder(t *testing.T) {
	// Three devices connecting in sequence with no history get A, B, C
	occupancy := map[Position]string{}
	expected := []Position{LeftShoe, RightShoe, Racket}
	devices := []string{"d1", "d2", "d3"}

	for i, id := range devices {
		p := Assign(id, occupancy, nil)
		assert.Equal(t, expected[i], p)
		occupancy[p] = id
	}
}

func TestPositionString(t *testing.T) {
	assert.Equal(t, "left_shoe", LeftShoe.String())
	assert.Equal(t, "right_shoe", RightShoe.String())
	assert.Equal(t, "racket", Racket.String())
	assert.Equal(t, "none", None.String())
}

func TestParse(t *testing.T) {
	for _, p := range All {
		assert.Equal(t, p, Parse(p.String()))
	}
	assert.Equal(t, None, Parse("none"))
	assert.Equal(t, None, Parse("garbage"))
}
