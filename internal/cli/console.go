// Package cli holds the terminal front end shared by cmd/taker and cmd/chat:
// notice and route rendering plus the sign-in prompt.
package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/stemsi/exstem-taker/internal/exam"
)

// Console renders notices and navigations as lines of text. It implements
// exam.Notifier and exam.Navigator.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	// Routes receives every navigation without blocking. A full channel
	// drops the route; the line is still printed.
	Routes chan string
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, Routes: make(chan string, 8)}
}

var levelTags = map[exam.Level]string{
	exam.LevelInfo:    "info",
	exam.LevelSuccess: " ok ",
	exam.LevelWarning: "warn",
	exam.LevelError:   "fail",
}

// Notify prints n with its tone.
func (c *Console) Notify(n exam.Notice) {
	c.Printf("[%s] %s\n", levelTags[n.Level], n.Message)
}

// Navigate prints the new route and forwards it on Routes.
func (c *Console) Navigate(path string) {
	c.Printf("-> %s\n", path)
	select {
	case c.Routes <- path:
	default:
	}
}

// Printf writes a line without interleaving with other writers.
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
