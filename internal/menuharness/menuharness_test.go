package menuharness

import (
	"testing"

	"github.com/gdamore/tcell"

	"github.com/lionxlover/lblcore/internal/config"
)

func testConfig() *config.LblConfig {
	return &config.LblConfig{
		TimeoutMs: 3000,
		Entries: []config.BootEntry{
			{ID: "b", Title: "Second", Type: config.EntryKernelDirect, Order: 1},
			{ID: "a", Title: "First", Type: config.EntryKernelDirect, Order: 0, Secure: true},
		},
		Advanced: config.AdvancedSettings{
			Countdown:    true,
			DefaultEntry: "a",
		},
	}
}

func TestNewMenu_SortsByOrderAndSelectsDefault(t *testing.T) {
	m := NewMenu(testConfig())

	if m.GetItemCount() != 2 {
		t.Fatalf("GetItemCount() = %d, want 2", m.GetItemCount())
	}
	first, secondary := m.GetItemText(0)
	if first != "First" {
		t.Errorf("item 0 = %q, want %q (order 0 should sort first)", first, "First")
	}
	if secondary != "kernel_direct (secure)" {
		t.Errorf("secondary text = %q", secondary)
	}
	if m.GetCurrentItem() != 0 {
		t.Errorf("GetCurrentItem() = %d, want 0 (default_entry %q)", m.GetCurrentItem(), "a")
	}
}

func TestNewMenu_KeepsEntriesSortedByOrder(t *testing.T) {
	cfg := testConfig()
	m := NewMenu(cfg)
	if m.entries[0].ID != "a" || m.entries[1].ID != "b" {
		t.Fatalf("entries not sorted: %+v", m.entries)
	}
}

func TestMenu_SetOnSelect_Chaining(t *testing.T) {
	m := NewMenu(testConfig())
	called := false
	result := m.SetOnSelect(func(e config.BootEntry) { called = true })

	if result != m {
		t.Error("SetOnSelect() should return the same Menu for chaining")
	}
	m.onSelect(config.BootEntry{})
	if !called {
		t.Error("expected onSelect callback to be invoked")
	}
}

func TestMenu_UserFeedback(t *testing.T) {
	m := NewMenu(testConfig())
	result := m.SetUserFeedback("boot failed", tcell.ColorRed)

	if result != m {
		t.Error("SetUserFeedback() should return the same Menu for chaining")
	}
	if m.feedback != "boot failed" {
		t.Errorf("feedback = %q", m.feedback)
	}

	m.ClearUserFeedback()
	if m.feedback != "" {
		t.Errorf("feedback = %q, want empty after ClearUserFeedback", m.feedback)
	}
}

func TestMenu_Run_NoEntries(t *testing.T) {
	m := NewMenu(&config.LblConfig{Entries: nil})
	if _, err := m.Run(nil); err == nil {
		t.Error("Run() error = nil, want error for empty entry list")
	}
}

func TestColorName_KnownAndUnknown(t *testing.T) {
	if got := colorName(tcell.ColorRed); got != "red" {
		t.Errorf("colorName(red) = %q", got)
	}
	if got := colorName(tcell.Color(0)); got != "white" {
		t.Errorf("colorName(unknown) = %q, want fallback \"white\"", got)
	}
}
