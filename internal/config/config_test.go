package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "KAFKA_BROKERS", "INVENTORY_WORKERS", "LOW_STOCK_THRESHOLD"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.InventoryWorkers != 8 || cfg.LowStockThreshold != 5 {
		t.Errorf("workers=%d threshold=%d", cfg.InventoryWorkers, cfg.LowStockThreshold)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("INVENTORY_WORKERS", "3")
	t.Setenv("LOW_STOCK_THRESHOLD", "many")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.InventoryWorkers != 3 {
		t.Errorf("InventoryWorkers = %d", cfg.InventoryWorkers)
	}
	if cfg.LowStockThreshold != 5 {
		t.Errorf("bad number must fall back, got %d", cfg.LowStockThreshold)
	}
}
