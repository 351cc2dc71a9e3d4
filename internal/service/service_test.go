package service

import (
	"context"
	"testing"
	"time"

	"fieldsense/internal/config"
)

func TestServiceRun(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Storage.Dir = t.TempDir()

	s := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
