package main

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "24h", want: now.Add(-24 * time.Hour)},
		{in: "90m", want: now.Add(-90 * time.Minute)},
		{in: "2024-06-01T08:00:00Z", want: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0f1e2d3c-4b5a"); got != "0f1e2d3c" {
		t.Errorf("shortID() = %q, want %q", got, "0f1e2d3c")
	}
	if got := shortID("id-1"); got != "id-1" {
		t.Errorf("shortID() = %q, want %q", got, "id-1")
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"config", "init"}, {"config", "list"},
		{"collect"}, {"watch"},
		{"query", "time"}, {"query", "entity"}, {"query", "type"}, {"query", "path"},
		{"stats"}, {"expire"}, {"bump"}, {"history"}, {"cursors"},
		{"handoff", "keygen"}, {"handoff", "open"},
		{"db", "migrate"}, {"db", "status"}, {"db", "backup"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil {
			t.Errorf("Find(%v) error = %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, cmd.Name())
		}
	}
}
