// Package memory provides in-process stores used in development mode and tests.
package memory
