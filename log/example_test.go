package log

import (
	"context"
	"fmt"
)

// Initialize log package
func ExampleLoggingConfig() {
	lc := LoggingConfig{UseDevelopmentLogger: true}
	err := lc.InitializeLogger()
	fmt.Printf("%v", err)
	// Output: <nil>
}

// Get logger
func ExampleGet() {
	logger := Get(context.Background())
	fmt.Printf("%T", logger)
	// Output: *zap.Logger
}
