package main

import (
	"testing"
)

func TestNormalizeWSURL(t *testing.T) {
	tests := []struct {
		raw, pin string
		want     string
		wantErr  bool
	}{
		{"ws://127.0.0.1:8080/ws?pin=1234", "", "ws://127.0.0.1:8080/ws?pin=1234", false},
		{"ws://127.0.0.1:8080", "4321", "ws://127.0.0.1:8080/ws?pin=4321", false},
		{"ws://127.0.0.1:8080/ws?pin=1234", "9999", "ws://127.0.0.1:8080/ws?pin=9999", false},
		{"https://abc.devtunnels.ms/anything", "0001", "wss://abc.devtunnels.ms/ws?pin=0001", false},
		{"  ws://host:1/  ", "12", "ws://host:1/ws?pin=12", false},
		{"ws://127.0.0.1:8080", "", "", true},
		{"not a url", "1234", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeWSURL(tt.raw, tt.pin)
		if tt.wantErr {
			if err == nil {
				t.Errorf("normalizeWSURL(%q, %q) = %q, want error", tt.raw, tt.pin, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeWSURL(%q, %q) error = %v", tt.raw, tt.pin, err)
			continue
		}
		if got != tt.want {
			t.Errorf("normalizeWSURL(%q, %q) = %q, want %q", tt.raw, tt.pin, got, tt.want)
		}
	}
}
