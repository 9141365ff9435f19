// Package menuharness is a dev-host terminal rendering of the boot menu:
// a tview/tcell application that lists a decoded config.LblConfig's entries,
// honors the same countdown/default-entry/mouse/touch settings a real
// framebuffer menu would, and reports back which entry the developer picked
// (or that the countdown expired onto the default) — so a config document
// can be dry-run on a workstation before it is ever tried on real firmware.
package menuharness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/tcell"
	"github.com/rivo/tview"

	"github.com/lionxlover/lblcore/internal/config"
)

// Menu renders a boot entry list with the same chainable-setter shape the
// engine's other tview primitives use.
type Menu struct {
	*tview.List

	entries  []config.BootEntry
	onSelect func(config.BootEntry)

	feedback      string
	feedbackColor tcell.Color

	mouseEnabled bool
	touchEnabled bool
	countdown    bool
	timeoutMs    int
}

// shortcutAlphabet assigns a one-key shortcut to each entry in list order:
// digits first (matching a numbered boot menu), then lowercase letters.
var shortcutAlphabet = []rune("1234567890abcdefghijklmnopqrstuvwxyz")

// NewMenu builds a Menu from cfg's entries, sorted by BootEntry.Order. The
// returned Menu is not yet running; call Run to drive it.
func NewMenu(cfg *config.LblConfig) *Menu {
	entries := append([]config.BootEntry(nil), cfg.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })

	m := &Menu{
		List:         tview.NewList(),
		entries:      entries,
		mouseEnabled: cfg.Advanced.EnableMouse,
		touchEnabled: cfg.Advanced.EnableTouch,
		countdown:    cfg.Advanced.Countdown,
		timeoutMs:    cfg.TimeoutMs,
	}

	m.List.ShowSecondaryText(true).SetWrapAround(true)

	for idx, e := range entries {
		shortcut := rune(0)
		if idx < len(shortcutAlphabet) {
			shortcut = shortcutAlphabet[idx]
		}
		secondary := string(e.Type)
		if e.Secure {
			secondary += " (secure)"
		}
		entry := e
		m.List.AddItem(e.Title, secondary, shortcut, func() {
			if m.onSelect != nil {
				m.onSelect(entry)
			}
		})
	}

	if def := cfg.DefaultEntry(); def != nil {
		for i, e := range entries {
			if e.ID == def.ID {
				m.List.SetCurrentItem(i)
				break
			}
		}
	}

	return m
}

// SetOnSelect registers the callback invoked when an entry is chosen,
// either by the user or by countdown expiry.
func (m *Menu) SetOnSelect(fn func(config.BootEntry)) *Menu {
	m.onSelect = fn
	return m
}

// SetUserFeedback surfaces a status line below the list, e.g. a boot
// failure message from a previous attempt.
func (m *Menu) SetUserFeedback(message string, color tcell.Color) *Menu {
	m.feedback = message
	m.feedbackColor = color
	return m
}

// ClearUserFeedback removes any previously set feedback message.
func (m *Menu) ClearUserFeedback() *Menu {
	m.feedback = ""
	return m
}

// Run drives the tview application until the user selects an entry or, if
// countdown is enabled, the configured timeout elapses onto the default
// entry. ctx cancellation stops the application and returns ctx.Err().
func (m *Menu) Run(ctx context.Context) (config.BootEntry, error) {
	if len(m.entries) == 0 {
		return config.BootEntry{}, fmt.Errorf("menuharness: no entries to display")
	}

	app := tview.NewApplication()
	if m.mouseEnabled {
		app.EnableMouse(true)
	}

	var chosen config.BootEntry
	var chosenOK bool
	m.SetOnSelect(func(e config.BootEntry) {
		chosen = e
		chosenOK = true
		app.Stop()
	})

	footer := tview.NewTextView().SetDynamicColors(true)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(m.List, 0, 1, true).
		AddItem(footer, 1, 0, false)

	if m.feedback != "" {
		footer.SetText(fmt.Sprintf("[%s]%s", colorName(m.feedbackColor), m.feedback))
	}

	countdownCtx, cancelCountdown := context.WithCancel(ctx)
	defer cancelCountdown()

	if m.countdown && m.timeoutMs > 0 {
		go m.runCountdown(countdownCtx, app, footer)
		app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			cancelCountdown()
			return event
		})
	}

	go func() {
		<-ctx.Done()
		app.Stop()
	}()

	if err := app.SetRoot(root, true).SetFocus(m.List).Run(); err != nil {
		return config.BootEntry{}, fmt.Errorf("menuharness: %w", err)
	}

	if ctx.Err() != nil {
		return config.BootEntry{}, ctx.Err()
	}
	if !chosenOK {
		def := m.entries[0]
		for _, e := range m.entries {
			if e.ID == m.currentDefaultID() {
				def = e
				break
			}
		}
		return def, nil
	}
	return chosen, nil
}

func (m *Menu) currentDefaultID() string {
	idx := m.List.GetCurrentItem()
	if idx >= 0 && idx < len(m.entries) {
		return m.entries[idx].ID
	}
	return ""
}

func (m *Menu) runCountdown(ctx context.Context, app *tview.Application, footer *tview.TextView) {
	remaining := time.Duration(m.timeoutMs) * time.Millisecond
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining -= 1 * time.Second
			if remaining <= 0 {
				app.QueueUpdateDraw(func() {})
				app.Stop()
				return
			}
			secs := int(remaining.Seconds())
			app.QueueUpdateDraw(func() {
				footer.SetText(fmt.Sprintf("booting default entry in %ds — press any key to cancel", secs))
			})
		}
	}
}

func colorName(c tcell.Color) string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return "white"
}

var colorNames = map[tcell.Color]string{
	tcell.ColorRed:    "red",
	tcell.ColorGreen:  "green",
	tcell.ColorYellow: "yellow",
	tcell.ColorBlue:   "blue",
	tcell.ColorWhite:  "white",
}
