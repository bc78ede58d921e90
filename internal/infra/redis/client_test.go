package redis

import "testing"

func TestParseRangeString(t *testing.T) {
	tests := []struct {
		in         string
		start, end uint64
		wantErr    bool
	}{
		{"100-200", 100, 200, false},
		{"0-0", 0, 0, false},
		{"98-100", 98, 100, false},
		{"abc-100", 0, 0, true},
		{"100", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		start, end, err := ParseRangeString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRangeString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if start != tt.start || end != tt.end {
			t.Errorf("ParseRangeString(%q) = %d, %d", tt.in, start, end)
		}
	}
}
