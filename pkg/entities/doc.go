// Package entities holds the portal's typed entity stores: thin wrappers
// over the generic entitymeta provider, one per business entity. Each file
// declares the entity's storage mapping, registers its fixed-query shapes
// for every backend, and exposes a typed store API so callers never touch
// generic metadata records directly.
package entities
