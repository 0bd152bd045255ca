package utils

import (
	"context"
	"testing"
	"time"
)

func TestOpenPostgres_RejectsEmptyDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "pgx", "", PostgresPoolConfig{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 25 || c.MaxIdleConns != 25 {
		t.Fatalf("unexpected conn defaults: %+v", c)
	}
	if c.ConnMaxLifetime != 30*time.Minute || c.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected idle defaults: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %+v", c)
	}

	explicit := PostgresPoolConfig{MaxOpenConns: 5}.withDefaults()
	if explicit.MaxOpenConns != 5 {
		t.Fatalf("explicit value overridden: %+v", explicit)
	}
}
