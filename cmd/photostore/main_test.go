package main

import (
	"testing"

	"github.com/bigkaa/gophotostore/internal/config"
)

func TestS3HealthURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
		want string
	}{
		{
			name: "без TLS",
			cfg:  &config.Config{S3Endpoint: "minio.local:9000", S3UseSSL: false},
			want: "http://minio.local:9000/minio/health/live",
		},
		{
			name: "с TLS",
			cfg:  &config.Config{S3Endpoint: "s3.example.com", S3UseSSL: true},
			want: "https://s3.example.com/minio/health/live",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s3HealthURL(tt.cfg)
			if got != tt.want {
				t.Errorf("s3HealthURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
