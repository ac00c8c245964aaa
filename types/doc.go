// Package types contains shared types used across webstarter: the unified
// error model and its error codes.
package types
