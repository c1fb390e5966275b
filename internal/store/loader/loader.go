// Package loader registers store drivers via blank imports.
// Import this package to ensure the default drivers are available.
//
// Usage in main.go:
//
//	import _ "github.com/podgraph/podgraph-go/internal/store/loader"
package loader

import (
	// Register the in-memory store driver
	_ "github.com/podgraph/podgraph-go/internal/store/memory"

	// Register the sqlite store driver
	_ "github.com/podgraph/podgraph-go/internal/store/sqlite"
)
