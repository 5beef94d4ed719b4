package core

import (
	"testing"
	"time"
)

// =============================================================================
// Test PanicHandler
// =============================================================================

func TestDefaultPanicHandler(t *testing.T) {
	// Given: A DefaultPanicHandler
	handler := &DefaultPanicHandler{}

	// When: HandlePanic is called
	handler.HandlePanic("test-queue", 42, "test panic", []byte("stack trace"))

	// Then: No panic should occur (handler should not crash)
	// This is just a sanity test to ensure the handler works
}

// =============================================================================
// Test Metrics
// =============================================================================

func TestNilMetrics(t *testing.T) {
	// Given: A NilMetrics
	metrics := &NilMetrics{}

	// When: All methods are called
	metrics.RecordRunDuration("test-queue", time.Second)
	metrics.RecordUnitsExecuted("test-queue", 10)
	metrics.RecordUnitPanic("test-queue", "panic")
	metrics.RecordRunAborted("test-queue", "unit panic")

	// Then: No panic should occur (all methods are no-ops)
	// This is just a sanity test to ensure the no-op implementation works
}

// =============================================================================
// Test Config
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	// Given: Default config
	config := DefaultConfig()

	// Then: All pluggable pieces should be non-nil
	if config.Logger == nil {
		t.Error("Logger should not be nil")
	}
	if config.Metrics == nil {
		t.Error("Metrics should not be nil")
	}
	if config.PanicHandler == nil {
		t.Error("PanicHandler should not be nil")
	}

	// Verify types
	if _, ok := config.Logger.(*DefaultLogger); !ok {
		t.Errorf("Logger should be *DefaultLogger, got %T", config.Logger)
	}
	if _, ok := config.Metrics.(*NilMetrics); !ok {
		t.Errorf("Metrics should be *NilMetrics, got %T", config.Metrics)
	}
	if _, ok := config.PanicHandler.(*DefaultPanicHandler); !ok {
		t.Errorf("PanicHandler should be *DefaultPanicHandler, got %T", config.PanicHandler)
	}

	// And: Backoff should carry the default tuning
	if config.Backoff != DefaultBackoffConfig() {
		t.Errorf("Backoff = %+v, want defaults", config.Backoff)
	}
}

func TestConfig_CustomPieces(t *testing.T) {
	// Given: Custom pieces
	logger := NewNoOpLogger()
	metrics := &NilMetrics{}
	handler := &DefaultPanicHandler{}

	config := &Config{
		Logger:       logger,
		Metrics:      metrics,
		PanicHandler: handler,
	}

	// Then: Pieces should be set correctly
	if config.Logger != logger {
		t.Error("Logger not set correctly")
	}
	if config.Metrics != metrics {
		t.Error("Metrics not set correctly")
	}
	if config.PanicHandler != handler {
		t.Error("PanicHandler not set correctly")
	}
}

func TestConfig_PartialConfig(t *testing.T) {
	// Given: Partial config (only Metrics set)
	metrics := &NilMetrics{}
	config := &Config{
		Metrics: metrics,
	}

	// Then: Only Metrics should be non-nil
	if config.Logger != nil {
		t.Error("Logger should be nil")
	}
	if config.Metrics != metrics {
		t.Error("Metrics not set correctly")
	}
	if config.PanicHandler != nil {
		t.Error("PanicHandler should be nil")
	}
}

func ExampleConfig() {
	// Create custom pieces
	logger := NewNoOpLogger()
	metrics := &NilMetrics{}
	handler := &DefaultPanicHandler{}

	// Create config
	config := &Config{
		Logger:       logger,
		Metrics:      metrics,
		PanicHandler: handler,
	}

	// Create queue with config
	queue := NewWorkQueueWithConfig[struct{}, int]("configured", 4, struct{}{}, config)
	queue.Shutdown()
}

func ExampleDefaultConfig() {
	// Use default config
	config := DefaultConfig()

	// Create queue with default config
	queue := NewWorkQueueWithConfig[struct{}, int]("defaults", 4, struct{}{}, config)
	queue.Shutdown()
}
