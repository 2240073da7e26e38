package util

import (
	"testing"
	"time"
)

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		def   float64
		want  float64
	}{
		{"unset", "", false, 0.05, 0.05},
		{"valid", "0.3", true, 0.05, 0.3},
		{"padded", " 0.7 ", true, 0.05, 0.7},
		{"malformed", "abc", true, 0.05, 0.05},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.set {
				t.Setenv("TEST_FLOAT", tc.value)
			}
			if got := GetEnvFloat("TEST_FLOAT", tc.def); got != tc.want {
				t.Fatalf("GetEnvFloat() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if got := GetEnvBool("TEST_BOOL", true); !got {
		t.Fatal("unrecognized value should fall back to default")
	}
	t.Setenv("TEST_BOOL", "false")
	if got := GetEnvBool("TEST_BOOL", true); got {
		t.Fatal("expected false")
	}
}

func TestGetEnvMillis(t *testing.T) {
	t.Setenv("TEST_MS", "1500")
	if got := GetEnvMillis("TEST_MS", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("GetEnvMillis() = %v", got)
	}
	t.Setenv("TEST_MS", "-1")
	if got := GetEnvMillis("TEST_MS", time.Second); got != time.Second {
		t.Fatalf("negative value should fall back, got %v", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	if got := GetEnvInt("TEST_INT", 3); got != 12 {
		t.Fatalf("GetEnvInt() = %d", got)
	}
}
