//go:build trace
// +build trace

package build

// LogLevel specifies a default log level of trace.
var LogLevel = "trace"
