package main

import "log"

// stdLogger is the default render.Logger: per-feature anomalies at warn
// level, per-tile failures at error level, both via the standard logger,
// mirroring the donor's direct log.Printf use (internal/service/tiler.go)
// rather than introducing a structured-logging dependency it never used.
type stdLogger struct{}

func (stdLogger) Warnf(format string, args ...interface{}) {
	log.Printf("WARN "+format, args...)
}

func (stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf("ERROR "+format, args...)
}
