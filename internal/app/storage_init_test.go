package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitStorage_MemoryDriver(t *testing.T) {
	logger := log.WithField("test", "storage-init")

	for _, driver := range []StorageDriver{"", StorageDriverMemory} {
		deps, err := initStorage(context.Background(), Config{StorageDriver: driver}, logger)
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if deps.Store != nil {
			t.Fatalf("driver %q: memory storage must not open postgres", driver)
		}
	}
}

func TestInitStorage_PostgresRequiresDSN(t *testing.T) {
	cfg := Config{StorageDriver: StorageDriverPostgres}

	if _, err := initStorage(context.Background(), cfg, log.WithField("test", "storage-init")); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestInitStorage_UnknownDriver(t *testing.T) {
	cfg := Config{StorageDriver: "cassandra"}

	if _, err := initStorage(context.Background(), cfg, log.WithField("test", "storage-init")); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
