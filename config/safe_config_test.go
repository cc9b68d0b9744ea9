package config

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSafeConfig_ThreadSafety(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	const numGoroutines = 50
	const numOperations = 500

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				cfg := safeConfig.Get()
				if cfg == nil {
					errs <- fmt.Errorf("got nil config")
					return
				}
				if n := cfg.Stream.MaxRetries; n != 0 && n != 5 {
					errs <- fmt.Errorf("unexpected max retries: %d", n)
					return
				}
			}
		}()
	}

	for i := 0; i < numGoroutines/2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOperations/10; j++ {
				next := validConfig()
				next.Stream.MaxRetries = 5
				if err := safeConfig.Update(next); err != nil {
					errs <- fmt.Errorf("update failed: %w", err)
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent access error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out, possible deadlock")
	}
}

func TestSafeConfig_NilHandling(t *testing.T) {
	safeConfig := NewSafeConfig(nil)

	if cfg := safeConfig.Get(); cfg == nil {
		t.Error("Get should not return nil even with nil base config")
	}
	if err := safeConfig.Update(nil); err == nil {
		t.Error("Update(nil) should return an error")
	}
}

func TestSafeConfig_ValidationDuringUpdate(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	invalid := validConfig()
	invalid.Aggregate.WindowSize = 0

	if err := safeConfig.Update(invalid); err == nil {
		t.Error("Update with invalid config should fail validation")
	}
	if cfg := safeConfig.Get(); cfg.Aggregate.WindowSize != 10 {
		t.Error("original config was modified after failed update")
	}
}

func TestSafeConfig_DeepCopy(t *testing.T) {
	safeConfig := NewSafeConfig(validConfig())

	cfg1 := safeConfig.Get()
	cfg2 := safeConfig.Get()

	cfg1.Subscriptions[0].Name = "modified"
	cfg1.Subscriptions = append(cfg1.Subscriptions, SubscriptionConfig{Name: "extra"})
	cfg1.NATS.URLs[0] = "nats://elsewhere:4222"

	if cfg2.Subscriptions[0].Name != "overview" || len(cfg2.Subscriptions) != 1 {
		t.Error("deep copy failed, cfg2 subscriptions were affected")
	}
	if cfg2.NATS.URLs[0] != "nats://localhost:4222" {
		t.Error("deep copy failed, cfg2 nats urls were affected")
	}
	if safeConfig.Get().Subscriptions[0].Name != "overview" {
		t.Error("original config was modified")
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "t0ken"

	redacted := cfg.Redacted()
	if redacted.NATS.Password != "****" || redacted.NATS.Token != "****" {
		t.Errorf("credentials not masked: %+v", redacted.NATS)
	}
	if cfg.NATS.Password != "hunter2" {
		t.Error("Redacted modified the original")
	}
	if (&Config{}).Redacted().NATS.Token != "" {
		t.Error("empty credentials must stay empty")
	}
}
