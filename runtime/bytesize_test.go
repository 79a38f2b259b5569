package runtime

import (
	"strings"
	"testing"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"1024", 1024},
		{"1k", 1 << 10},
		{"1K", 1 << 10},
		{"16M", 16 << 20},
		{"1G", 1 << 30},
		{"1.5M", 1 << 20},
		{"1.9k", 1 << 10},
		{"10kB", 10 << 10},
		{"1e3", 1000},
		{"", 0},
		{"K", 0},
		{"-5M", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if err != nil {
				t.Fatalf("ParseByteSize(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseByteSizeInvalidSuffix(t *testing.T) {
	tests := []struct {
		in   string
		rest string
	}{
		{"10x", "x"},
		{"1e", "e"},
		{"5 M", " M"},
		{"1.5T", "T"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseByteSize(tt.in)
			if err == nil {
				t.Fatalf("ParseByteSize(%q): expected error", tt.in)
			}
			if !strings.Contains(err.Error(), "invalid suffix: "+tt.rest) {
				t.Fatalf("ParseByteSize(%q) error = %q, want suffix %q", tt.in, err, tt.rest)
			}
		})
	}
}
