// Package pool provides the worker pool that bridges blocking database work
// off the request-serving goroutines, plus generic object pooling.
package pool
