// Package logging wraps zap with context-aware helpers used across conductor.
//
// Components take a plain *zap.Logger (nil means zap.NewNop()). The Logger
// type here is used by entrypoints and long-lived loops that want trace and
// scope correlation pulled from the context on every call.
package logging
