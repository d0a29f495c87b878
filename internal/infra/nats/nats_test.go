package natsclient

import (
	"testing"

	"github.com/sifan077/KrunkLink/config"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NATSConfig
		want string
	}{
		{name: "defaults", cfg: config.NATSConfig{}, want: "nats://localhost:4222"},
		{name: "custom", cfg: config.NATSConfig{Host: "nats.internal", Port: 4333}, want: "nats://nats.internal:4333"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URL(tt.cfg); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
