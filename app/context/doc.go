// Package context contains the application context types.
//
// The types are shared by the app and cli packages, and live here to avoid an
// import cycle between them.
package context
