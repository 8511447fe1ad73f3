package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"10s", 10 * time.Second, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1.5h", 90 * time.Minute, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 168 * time.Hour, false},
		{"2d2h", 50 * time.Hour, false},
		{"", 0, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"500m", 500, false},
		{"3km", 3000, false},
		{"1nm", 1852, false},
		{"1000", 1000, false},
		{"10x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDistance(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDistance(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDistance(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestUnits_YAMLRoundTrip(t *testing.T) {
	type sample struct {
		Wait  Duration `yaml:"wait"`
		Range Distance `yaml:"range"`
		Near  Distance `yaml:"near"`
	}

	var in sample
	if err := yaml.Unmarshal([]byte("wait: 2s\nrange: 3km\nnear: 750\n"), &in); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if in.Wait.Std() != 2*time.Second {
		t.Errorf("wait = %v, want 2s", in.Wait.Std())
	}
	if in.Range.Meters() != 3000 || in.Near.Meters() != 750 {
		t.Errorf("range/near = %v/%v, want 3000/750", in.Range, in.Near)
	}

	out, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got := string(out); got != "wait: 2s\nrange: 3km\nnear: 750m\n" {
		t.Errorf("marshal = %q", got)
	}
}
