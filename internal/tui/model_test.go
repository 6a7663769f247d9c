package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/monitor"
	"github.com/nip10/varyant/internal/recommend"
)

type fakeProgram struct{ msgs []tea.Msg }

func (f *fakeProgram) Send(msg tea.Msg) { f.msgs = append(f.msgs, msg) }

type fakeController struct {
	state      monitor.State
	refreshErr error
	refreshes  int
	current    analysis.View
	have       bool
}

func (c *fakeController) Pause() error  { c.state = monitor.Paused; return nil }
func (c *fakeController) Resume() error { c.state = monitor.Active; return nil }
func (c *fakeController) Refresh() error {
	c.refreshes++
	return c.refreshErr
}
func (c *fakeController) State() monitor.State           { return c.state }
func (c *fakeController) Current() (analysis.View, bool) { return c.current, c.have }

func sampleView() analysis.View {
	days := 10
	return analysis.View{
		ExperimentID:   7,
		ExperimentName: "Checkout button",
		Status:         "running",
		Variants: []analysis.VariantView{
			{Key: "control", Name: "Control", Participants: 1000, Conversions: 50, ConversionRate: 5, Significance: 100},
			{Key: "test", Name: "Green", Participants: 1000, Conversions: 75, ConversionRate: 7.5, Improvement: 50, Significance: 100},
		},
		TotalParticipants:    2000,
		DaysRunning:          &days,
		Recommendation:       recommend.Ship,
		RecommendationReason: "Strong positive results",
		Commentary:           "The test variant is winning",
		LastUpdated:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestDisplayPublishSendsViewMsg(t *testing.T) {
	d := NewDisplay()
	d.Publish(sampleView()) // no program yet, dropped

	p := &fakeProgram{}
	d.attach(p)
	d.Publish(sampleView())

	if len(p.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(p.msgs))
	}
	if _, ok := p.msgs[0].(viewMsg); !ok {
		t.Fatalf("expected viewMsg, got %T", p.msgs[0])
	}
}

func TestModelStartsFromCurrentView(t *testing.T) {
	c := &fakeController{state: monitor.Active, current: sampleView(), have: true}
	m := newModel(c, 10*time.Second)

	out := m.View()
	for _, want := range []string{"Checkout button", "Green", "+50.0%", "SHIP", "auto-refresh every 10s"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestModelInitPullsViewPublishedBeforeAttach(t *testing.T) {
	c := &fakeController{state: monitor.Active}
	m := newModel(c, 10*time.Second)

	// The first fetch completes after the model was built but before the
	// program was attached to the display.
	c.current, c.have = sampleView(), true

	cmd := m.Init()
	if cmd == nil {
		t.Fatal("expected Init to return a command")
	}
	msg := cmd()
	if _, ok := msg.(viewMsg); !ok {
		t.Fatalf("expected viewMsg, got %T", msg)
	}

	next, _ := m.Update(msg)
	if out := next.(model).View(); !strings.Contains(out, "Checkout button") {
		t.Errorf("expected pulled view to render, got:\n%s", out)
	}
}

func TestModelInitWithoutView(t *testing.T) {
	m := newModel(&fakeController{state: monitor.Active}, time.Second)
	if msg := m.Init()(); msg != nil {
		t.Errorf("expected no message before the first fetch, got %T", msg)
	}
}

func TestModelIgnoresOlderView(t *testing.T) {
	c := &fakeController{state: monitor.Active, current: sampleView(), have: true}
	m := newModel(c, time.Second)

	older := sampleView()
	older.LastUpdated = older.LastUpdated.Add(-10 * time.Second)
	older.TotalParticipants = 10

	next, _ := m.Update(viewMsg{view: older})
	if got := next.(model).view.TotalParticipants; got != 2000 {
		t.Errorf("older view replaced newer one: total %d", got)
	}
}

func TestModelLoading(t *testing.T) {
	c := &fakeController{state: monitor.Active, current: analysis.View{ExperimentID: 7}}
	m := newModel(c, 10*time.Second)
	if !strings.Contains(m.View(), "Loading") {
		t.Errorf("expected loading placeholder")
	}

	mi, _ := m.Update(viewMsg{view: analysis.View{ExperimentID: 7, Error: "experiment 7: not found"}})
	m = mi.(model)
	if !strings.Contains(m.View(), "not found") {
		t.Errorf("expected error in view")
	}
}

func TestModelPauseToggle(t *testing.T) {
	c := &fakeController{state: monitor.Active, current: sampleView(), have: true}
	m := newModel(c, 10*time.Second)

	mi, _ := m.Update(key('p'))
	m = mi.(model)
	if c.state != monitor.Paused || !m.paused {
		t.Fatalf("expected paused, got state=%s paused=%v", c.state, m.paused)
	}
	if !strings.Contains(m.View(), "paused") {
		t.Errorf("footer should show paused")
	}

	mi, _ = m.Update(key('p'))
	m = mi.(model)
	if c.state != monitor.Active || m.paused {
		t.Fatalf("expected active, got state=%s paused=%v", c.state, m.paused)
	}
}

func TestModelRefresh(t *testing.T) {
	c := &fakeController{state: monitor.Active, current: sampleView(), have: true}
	m := newModel(c, 10*time.Second)

	mi, _ := m.Update(key('r'))
	m = mi.(model)
	if c.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", c.refreshes)
	}

	c.refreshErr = monitor.ErrBusy
	mi, _ = m.Update(key('r'))
	m = mi.(model)
	if !strings.Contains(m.View(), "refresh already running") {
		t.Errorf("expected busy notice")
	}
}

func TestModelStaleWarning(t *testing.T) {
	c := &fakeController{state: monitor.Active}
	m := newModel(c, 10*time.Second)

	v := sampleView()
	v.Stale = true
	v.Error = "upstream 502"
	mi, _ := m.Update(viewMsg{view: v})
	m = mi.(model)

	out := m.View()
	if !strings.Contains(out, "latest refresh failed: upstream 502") {
		t.Errorf("expected stale warning:\n%s", out)
	}
	if !strings.Contains(out, "Green") {
		t.Errorf("stale view should keep last good rows")
	}
}

func TestModelQuit(t *testing.T) {
	m := newModel(&fakeController{state: monitor.Active}, time.Second)
	_, cmd := m.Update(key('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("expected QuitMsg")
	}
}
