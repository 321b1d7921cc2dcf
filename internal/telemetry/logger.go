// Package telemetry bootstraps logging and metrics the way cmd/worker's
// main() does in the upstream service: a prefixed stdlib logger per
// component, a Prometheus registry, and an OTel tracer.
package telemetry

import (
	"log"
	"os"
)

// NewLogger returns a stdlib logger prefixed with the component name,
// following `log.New(os.Stdout, "[WORKER] ", log.LstdFlags)` with
// microsecond timestamps added.
func NewLogger(component string) *log.Logger {
	return log.New(os.Stdout, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}
