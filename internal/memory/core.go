package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// truncationMarker is prepended when the core file exceeds its cap and
// only the tail is returned.
const truncationMarker = "[earlier core memory truncated]\n"

// CoreMemory is the always-loaded markdown file of durable notes. It is
// read fresh on every prompt assembly so external edits take effect
// immediately.
type CoreMemory struct {
	path string
	cap  int
}

// NewCoreMemory builds a reader for the core file. cap <= 0 disables
// truncation.
func NewCoreMemory(path string, byteCap int) *CoreMemory {
	return &CoreMemory{path: path, cap: byteCap}
}

// Read returns the core file contents, capped to the configured byte
// budget. When over budget the newest lines win: the head is dropped at a
// line boundary and a marker notes the cut. A missing file reads as empty.
func (c *CoreMemory) Read() (string, error) {
	if c == nil || c.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read core memory: %w", err)
	}
	content := string(data)
	if c.cap <= 0 || len(content) <= c.cap {
		return content, nil
	}
	tail := content[len(content)-c.cap:]
	if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return truncationMarker + tail, nil
}

// Append adds a line to the core file, creating it if needed.
func (c *CoreMemory) Append(line string) error {
	if c == nil || c.path == "" {
		return fmt.Errorf("core memory file not configured")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append core memory: %w", err)
	}
	defer f.Close()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err = f.WriteString(line)
	return err
}
