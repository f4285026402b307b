// Package core is intentionally small: it has no dependency on any other
// package in this module, so every other package may depend on it without
// creating import cycles.
package core
