package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		label    string
		expected string
	}{
		{"fridge", "Kühlschrank"},
		{"washing_machine", "Waschmaschine"},
		{"heat_pump", "Wärmepumpe"},
		{"water_heater", "Boiler"},
		{"solar_inverter", "solar_inverter"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.expected, DisplayName(tt.label))
		})
	}
}
