// Package version holds the release string reported by the server.
package version

// Version is overwritten at release time.
const Version = "v0.3.0"
