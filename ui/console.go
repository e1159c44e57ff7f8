package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"filenet/network"
)

// TransferProgress tracks one transfer's progress for display.
type TransferProgress struct {
	ID        uint64
	Direction network.Direction
	Name      string
	Done      uint64
	Total     uint64
	Completed bool
}

type progressKey struct {
	direction network.Direction
	id        uint64
}

// Console is the terminal surface: status lines and one progress bar per
// running transfer. While hidden it keeps tracking progress but prints nothing.
type Console struct {
	out io.Writer

	mu       sync.Mutex
	hidden   bool
	bars     map[progressKey]*progressbar.ProgressBar
	progress map[progressKey]TransferProgress
}

// NewConsole writes to out.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:      out,
		bars:     make(map[progressKey]*progressbar.ProgressBar),
		progress: make(map[progressKey]TransferProgress),
	}
}

// Info prints one status line.
func (c *Console) Info(text string) {
	logrus.WithField("ui", "console").Debug(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hidden {
		return
	}
	fmt.Fprintln(c.out, text)
}

// Progress updates the bar of one transfer, creating it on first use.
func (c *Console) Progress(direction network.Direction, id uint64, name string, done, total uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := progressKey{direction: direction, id: id}
	c.progress[key] = TransferProgress{
		ID:        id,
		Direction: direction,
		Name:      name,
		Done:      done,
		Total:     total,
		Completed: total > 0 && done >= total,
	}

	if c.hidden || total == 0 {
		return
	}

	bar, ok := c.bars[key]
	if !ok {
		bar = progressbar.NewOptions64(
			int64(total),
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetDescription(fmt.Sprintf("%s %s", direction, name)),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetPredictTime(false),
		)
		c.bars[key] = bar
	}
	_ = bar.Set64(int64(done))

	if done >= total {
		_ = bar.Finish()
		fmt.Fprintln(c.out)
		delete(c.bars, key)
	}
}

// SetVisible toggles quiet mode.
func (c *Console) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hidden = !visible
	if c.hidden {
		c.bars = make(map[progressKey]*progressbar.ProgressBar)
	}
	logrus.WithField("visible", visible).Debug("Console visibility changed")
}

// Visible reports whether the console prints anything.
func (c *Console) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.hidden
}

// Snapshot returns the last progress of one transfer.
func (c *Console) Snapshot(direction network.Direction, id uint64) (TransferProgress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	progress, ok := c.progress[progressKey{direction: direction, id: id}]
	return progress, ok
}
