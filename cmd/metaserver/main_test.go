package main

import (
	"reflect"
	"testing"

	"github.com/AnishMulay/kfsaccess/internal/config"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		in      string
		want    []config.NodeConfig
		wantErr bool
	}{
		{"", nil, false},
		{"cs1=10.0.0.1:30000", []config.NodeConfig{{ID: "cs1", Address: "10.0.0.1:30000"}}, false},
		{"a=h1:1,,b=h2:2", []config.NodeConfig{{ID: "a", Address: "h1:1"}, {ID: "b", Address: "h2:2"}}, false},
		{"missing-address", nil, true},
		{"=h:1", nil, true},
	}
	for _, tt := range tests {
		got, err := parsePeers(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePeers(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePeers(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
