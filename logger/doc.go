// Package logger provides structured logging for the objstore library
// using zerolog.
//
// It supports JSON and console output, level configuration from the
// environment, and component-scoped loggers with structured fields.
//
// # Usage
//
//	log := logger.NewFromEnv("objstore")
//	log.WithComponent("s3").Info("bucket ready", logger.Fields("bucket", "public"))
package logger
