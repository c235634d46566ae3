package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/autokey/internal/auth"
	"github.com/goodtune/autokey/internal/config"
	"github.com/goodtune/autokey/internal/scheduler"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/goodtune/autokey/internal/storage/file"
	"github.com/rs/zerolog"
)

func TestFormatClock(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{61*time.Minute + 5*time.Second, "01:01:05"},
		{26 * time.Hour, "26:00:00"},
		{1500 * time.Millisecond, "00:00:01"},
	}

	for _, tt := range tests {
		if got := formatClock(tt.d); got != tt.want {
			t.Errorf("formatClock(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestDeadlineText(t *testing.T) {
	tests := []struct {
		name string
		snap scheduler.Snapshot
		want string
	}{
		{"pending", scheduler.Snapshot{Authorization: auth.Pending}, "fetching"},
		{"verified without deadline", scheduler.Snapshot{Authorization: auth.Verified}, "unlimited"},
		{"verified with deadline", scheduler.Snapshot{Authorization: auth.Verified, Deadline: "2999-12-31"}, "2999-12-31"},
		{"network error", scheduler.Snapshot{Authorization: auth.NetworkError}, "unlimited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deadlineText(tt.snap); got != tt.want {
				t.Errorf("deadlineText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenStorage(t *testing.T) {
	logger := zerolog.Nop()

	s, err := openStorage(config.StorageConfig{Type: "memory"}, logger)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*storage.MemoryStore); !ok {
		t.Errorf("memory: got %T", s)
	}

	s, err = openStorage(config.StorageConfig{Type: "file", Path: filepath.Join(t.TempDir(), "settings.yaml")}, logger)
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if _, ok := s.(*file.Store); !ok {
		t.Errorf("file: got %T", s)
	}

	if _, err := openStorage(config.StorageConfig{Type: "etcd"}, logger); err == nil {
		t.Error("expected error for unsupported storage type")
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
logging:
  level: debug
auth:
  url: https://auth.example.org/check.json
  retries: 3
schedular:
  auto_start: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}

	want := []string{"auth.retries", "schedular.auto_start"}
	if len(unknown) != len(want) {
		t.Fatalf("unknown = %v, want %v", unknown, want)
	}
	for i := range want {
		if unknown[i] != want[i] {
			t.Errorf("unknown[%d] = %q, want %q", i, unknown[i], want[i])
		}
	}
}
