package cmd

import (
	"context"
	"testing"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/logging"
)

func TestOpenRepositoryOrMemory(t *testing.T) {
	tests := []struct {
		name     string
		db       config.DatabaseConfig
		wantRepo bool
		wantErr  bool
	}{
		{
			name: "persistence disabled",
			db:   config.DatabaseConfig{Backend: "none"},
		},
		{
			name:     "file backend",
			db:       config.DatabaseConfig{Backend: "file", Dir: t.TempDir()},
			wantRepo: true,
		},
		{
			name: "unreachable server falls back to memory",
			db:   config.DatabaseConfig{Backend: "mariadb", URL: "tracker:secret@tcp(127.0.0.1:1)/people?timeout=1s"},
		},
		{
			name:    "malformed DSN still fails",
			db:      config.DatabaseConfig{Backend: "mariadb", URL: "tracker:secret@127.0.0.1:3306/people"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Database: tt.db}
			repo, err := openRepositoryOrMemory(context.Background(), cfg, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (repo != nil) != tt.wantRepo {
				t.Fatalf("repository = %v, want one: %v", repo, tt.wantRepo)
			}
			if repo != nil {
				_ = repo.Close()
			}
		})
	}
}
