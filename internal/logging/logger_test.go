package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		Init(Config{Level: tt.in})
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("Init(%q) level = %v, want %v", tt.in, got, tt.want)
		}
	}
}
