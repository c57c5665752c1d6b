package connection

import (
	"errors"
	"testing"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8000", want: "ws://localhost:8000/rpc"},
		{in: "https://db.example.com", want: "wss://db.example.com/rpc"},
		{in: "ws://localhost:8000", want: "ws://localhost:8000/rpc"},
		{in: "wss://db.example.com:8443", want: "wss://db.example.com:8443/rpc"},
		{in: "http://localhost:8000/", want: "ws://localhost:8000/rpc"},
		{in: "ws://localhost:8000/rpc", want: "ws://localhost:8000/rpc"},
		{in: "https://db.example.com/eddy", want: "wss://db.example.com/eddy/rpc"},
		{in: "ftp://db.example.com", wantErr: true},
		{in: "localhost:8000", wantErr: true},
	}

	for _, tt := range tests {
		got, err := Endpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Endpoint(%q) expected error, got %q", tt.in, got)
			} else if !errors.Is(err, ErrInvalidScheme) {
				t.Errorf("Endpoint(%q) error = %v, want ErrInvalidScheme", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Endpoint(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHTTPEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "ws://localhost:8000", want: "http://localhost:8000/rpc"},
		{in: "wss://db.example.com", want: "https://db.example.com/rpc"},
		{in: "http://localhost:8000/rpc", want: "http://localhost:8000/rpc"},
		{in: "https://db.example.com", want: "https://db.example.com/rpc"},
	}

	for _, tt := range tests {
		got, err := HTTPEndpoint(tt.in)
		if err != nil {
			t.Errorf("HTTPEndpoint(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("HTTPEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
