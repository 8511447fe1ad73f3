package logging

import (
	"strings"
	"sync"
)

// LineCapture is a thread-safe writer that keeps the last written line.
type LineCapture struct {
	mu       sync.RWMutex
	lastLine string
}

// LastNarration holds the most recent narration event line for the stats endpoint.
var LastNarration = &LineCapture{}

// Write implements io.Writer.
func (w *LineCapture) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastLine = strings.TrimSpace(string(p))
	return len(p), nil
}

// LastLine returns the most recent line.
func (w *LineCapture) LastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastLine
}
