// Package tui renders a live experiment view in the terminal.
package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/monitor"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// Controller is the part of a monitor session the display drives.
type Controller interface {
	Pause() error
	Resume() error
	Refresh() error
	State() monitor.State
	Current() (analysis.View, bool)
}

// viewMsg carries a freshly published view.
type viewMsg struct{ view analysis.View }

// Display is a monitor.Publisher that forwards views to a running
// bubbletea program. Views published while no program runs are dropped;
// the model pulls the controller's current view when the program starts.
type Display struct {
	mu      sync.Mutex
	program teaProgram
}

var _ monitor.Publisher = (*Display)(nil)

func NewDisplay() *Display {
	return &Display{}
}

func (d *Display) Publish(v analysis.View) {
	d.mu.Lock()
	p := d.program
	d.mu.Unlock()
	if p != nil {
		p.Send(viewMsg{view: v})
	}
}

func (d *Display) attach(p teaProgram) {
	d.mu.Lock()
	d.program = p
	d.mu.Unlock()
}

// Run shows the live view until the user quits or ctx is cancelled.
func (d *Display) Run(ctx context.Context, c Controller, interval time.Duration) error {
	p := tea.NewProgram(newModel(c, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	d.attach(p)
	defer d.attach(nil)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
