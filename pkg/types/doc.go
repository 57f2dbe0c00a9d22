// Package types defines the EntityStore and Backend interfaces, the schema
// model, entity records, change events, configuration, and the standard
// error types for the c2store engine.
package types
