package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/config"
	"github.com/josiah-nelson/sfplib/internal/device"
	"github.com/josiah-nelson/sfplib/internal/session"
	"github.com/josiah-nelson/sfplib/internal/store"
	"github.com/josiah-nelson/sfplib/internal/transport"
)

// View represents different screens in the TUI.
type View int

const (
	ViewMain View = iota
	ViewDevice
	ViewStore
	ViewStoreDetail
	ViewHelp
)

// MenuItem represents a menu option.
type MenuItem struct {
	Title       string
	Description string
	View        View
}

// Model is the main Bubbletea model for the TUI.
type Model struct {
	cfg *config.Config
	st  *store.Store
	log zerolog.Logger

	view      View
	cursor    int
	menuItems []MenuItem
	width     int
	height    int

	// Device session state.
	connected  bool
	connecting bool
	busy       bool
	manager    *device.Manager
	firmware   string
	status     *session.Status

	// Library state.
	entries  []store.IndexEntry
	selected *store.Record

	errorMsg  string
	statusMsg string

	keys    KeyMap
	help    help.Model
	spinner spinner.Model
	styles  Styles
}

// NewModel creates the initial TUI model.
func NewModel(cfg *config.Config, st *store.Store, log zerolog.Logger) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		cfg: cfg,
		st:  st,
		log: log,
		menuItems: []MenuItem{
			{Title: "Device", Description: "Connect and operate on the inserted module", View: ViewDevice},
			{Title: "Library", Description: "Browse stored module profiles", View: ViewStore},
			{Title: "Help", Description: "Keybindings", View: ViewHelp},
		},
		keys:    DefaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		styles:  DefaultStyles(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// --- messages ---

type connectedMsg struct {
	manager  *device.Manager
	firmware string
}

type deviceStatusMsg struct{ status *session.Status }

type capturedMsg struct{ result *device.CaptureResult }

type writtenMsg struct{ result *device.WriteResult }

type erasedMsg struct{}

type profilesMsg struct{ entries []store.IndexEntry }

type recordMsg struct{ record *store.Record }

type errMsg struct{ err error }

// --- commands ---

func (m Model) connectCmd() tea.Cmd {
	cfg, st, log := m.cfg, m.st, m.log
	return func() tea.Msg {
		ble := transport.NewBLE(transport.Config{
			ServiceUUID:    cfg.Device.ServiceUUID,
			WriteCharUUID:  cfg.Device.WriteCharUUID,
			NotifyCharUUID: cfg.Device.NotifyCharUUID,
			NamePatterns:   cfg.Device.NamePatterns,
		}, log)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.ScanTimeout)
		defer cancel()

		address, err := ble.Scan(ctx)
		if err != nil {
			return errMsg{err}
		}

		mgr := device.NewManager(cfg, ble, st, log)
		if err := mgr.Connect(ctx, address); err != nil {
			return errMsg{err}
		}
		return connectedMsg{manager: mgr, firmware: mgr.FirmwareVersion()}
	}
}

func (m Model) statusCmd() tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		st, err := mgr.Status(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return deviceStatusMsg{status: st}
	}
}

func (m Model) captureCmd() tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		r, err := mgr.Capture(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return capturedMsg{result: r}
	}
}

func (m Model) writeCmd(hash string) tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		r, err := mgr.WriteProfile(context.Background(), hash, true)
		if err != nil {
			return errMsg{err}
		}
		return writtenMsg{result: r}
	}
}

func (m Model) eraseCmd() tea.Cmd {
	mgr := m.manager
	return func() tea.Msg {
		if err := mgr.Erase(context.Background()); err != nil {
			return errMsg{err}
		}
		return erasedMsg{}
	}
}

func (m Model) loadProfilesCmd() tea.Cmd {
	st := m.st
	return func() tea.Msg {
		entries, err := st.List()
		if err != nil {
			return errMsg{err}
		}
		return profilesMsg{entries: entries}
	}
}

func (m Model) loadRecordCmd(hash string) tea.Cmd {
	st := m.st
	return func() tea.Msg {
		rec, err := st.GetRecord(hash)
		if err != nil {
			return errMsg{err}
		}
		return recordMsg{record: rec}
	}
}

// --- update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case connectedMsg:
		m.connecting = false
		m.connected = true
		m.manager = msg.manager
		m.firmware = msg.firmware
		m.statusMsg = "connected"
		m.errorMsg = ""
		return m, m.statusCmd()

	case deviceStatusMsg:
		m.status = msg.status
		return m, nil

	case capturedMsg:
		m.busy = false
		if msg.result.New {
			m.statusMsg = "captured new profile " + store.ShortHash(msg.result.Hash)
		} else {
			m.statusMsg = "profile already known: " + store.ShortHash(msg.result.Hash)
		}
		return m, nil

	case writtenMsg:
		m.busy = false
		if msg.result.Verify != nil && !msg.result.Verify.Match {
			m.errorMsg = fmt.Sprintf("verification failed at offset %d", msg.result.Verify.MismatchOffset)
		} else {
			m.statusMsg = "write verified"
		}
		return m, nil

	case erasedMsg:
		m.busy = false
		m.statusMsg = "module erased"
		return m, m.statusCmd()

	case profilesMsg:
		m.entries = msg.entries
		if m.cursor >= len(m.entries) {
			m.cursor = 0
		}
		return m, nil

	case recordMsg:
		m.selected = msg.record
		m.view = ViewStoreDetail
		return m, nil

	case errMsg:
		m.connecting = false
		m.busy = false
		m.errorMsg = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		if m.manager != nil {
			m.manager.Close()
		}
		return m, tea.Quit
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.listLen()-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Back):
		m.errorMsg = ""
		switch m.view {
		case ViewStoreDetail:
			m.view = ViewStore
		case ViewDevice, ViewStore, ViewHelp:
			m.view = ViewMain
			m.cursor = 0
		}
	case key.Matches(msg, m.keys.Select):
		return m.handleSelect()
	case key.Matches(msg, m.keys.Help):
		m.view = ViewHelp
	case key.Matches(msg, m.keys.Connect):
		if !m.connected && !m.connecting {
			m.connecting = true
			m.errorMsg = ""
			return m, m.connectCmd()
		}
	case key.Matches(msg, m.keys.Refresh):
		switch {
		case m.view == ViewStore:
			return m, m.loadProfilesCmd()
		case m.connected:
			return m, m.statusCmd()
		}
	case key.Matches(msg, m.keys.Capture):
		if m.view == ViewDevice && m.connected && !m.busy {
			m.busy = true
			return m, m.captureCmd()
		}
	case key.Matches(msg, m.keys.Write):
		if m.view == ViewStore && m.connected && !m.busy && m.cursor < len(m.entries) {
			m.busy = true
			return m, m.writeCmd(m.entries[m.cursor].Hash)
		}
	case key.Matches(msg, m.keys.Erase):
		if m.view == ViewDevice && m.connected && !m.busy {
			m.busy = true
			return m, m.eraseCmd()
		}
	}
	return m, nil
}

func (m Model) handleSelect() (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewMain:
		if m.cursor < len(m.menuItems) {
			item := m.menuItems[m.cursor]
			m.view = item.View
			m.cursor = 0
			if item.View == ViewStore {
				return m, m.loadProfilesCmd()
			}
		}
	case ViewStore:
		if m.cursor < len(m.entries) {
			return m, m.loadRecordCmd(m.entries[m.cursor].Hash)
		}
	}
	return m, nil
}

func (m Model) listLen() int {
	switch m.view {
	case ViewMain:
		return len(m.menuItems)
	case ViewStore:
		return len(m.entries)
	}
	return 0
}

// --- view ---

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("sfplib"))
	b.WriteString("\n\n")

	switch m.view {
	case ViewMain:
		m.renderMain(&b)
	case ViewDevice:
		m.renderDevice(&b)
	case ViewStore:
		m.renderStore(&b)
	case ViewStoreDetail:
		m.renderStoreDetail(&b)
	case ViewHelp:
		b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	}

	b.WriteString("\n")
	m.renderStatusBar(&b)
	b.WriteString(m.styles.Help.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return m.styles.App.Render(b.String())
}

func (m Model) renderMain(b *strings.Builder) {
	for i, item := range m.menuItems {
		style := m.styles.MenuItem
		prefix := "  "
		if i == m.cursor {
			style = m.styles.MenuItemSelected
			prefix = "> "
		}
		b.WriteString(style.Render(prefix + item.Title))
		b.WriteString("\n")
		b.WriteString(m.styles.MenuItemDim.Render(item.Description))
		b.WriteString("\n")
	}
}

func (m Model) renderDevice(b *strings.Builder) {
	if !m.connected {
		if m.connecting {
			b.WriteString(m.spinner.View() + " scanning for device...\n")
		} else {
			b.WriteString(m.styles.Muted.Render("Not connected. Press 'c' to scan and connect.") + "\n")
		}
		return
	}

	b.WriteString(m.styles.Label.Render("firmware") + m.styles.Value.Render(m.firmware) + "\n")
	if m.status != nil {
		present := "no"
		if m.status.ModulePresent {
			present = "yes"
		}
		b.WriteString(m.styles.Label.Render("module") + m.styles.Value.Render(present) + "\n")
	}
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.spinner.View() + " operation in progress...\n")
	} else {
		b.WriteString(m.styles.Muted.Render("d: capture module into library   E: erase module   r: refresh") + "\n")
	}
}

func (m Model) renderStore(b *strings.Builder) {
	if len(m.entries) == 0 {
		b.WriteString(m.styles.Muted.Render("Library is empty.") + "\n")
		return
	}
	for i, entry := range m.entries {
		style := m.styles.MenuItem
		prefix := "  "
		if i == m.cursor {
			style = m.styles.MenuItemSelected
			prefix = "> "
		}
		line := fmt.Sprintf("%s%s  %-10s %-16s %s",
			prefix, store.ShortHash(entry.Hash), entry.ModuleType, entry.VendorName, entry.PartNumber)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	if m.connected {
		b.WriteString("\n" + m.styles.Muted.Render("w: write selected profile to module") + "\n")
	}
}

func (m Model) renderStoreDetail(b *strings.Builder) {
	rec := m.selected
	if rec == nil {
		return
	}
	b.WriteString(m.styles.Label.Render("hash") + m.styles.Value.Render(store.ShortHash(rec.ContentHash)) + "\n")
	b.WriteString(m.styles.Label.Render("size") + m.styles.Value.Render(fmt.Sprintf("%d bytes", rec.Size)) + "\n")
	if meta := rec.Metadata; meta != nil {
		b.WriteString(m.styles.Label.Render("type") + m.styles.Value.Render(meta.ModuleType) + "\n")
		b.WriteString(m.styles.Label.Render("vendor") + m.styles.Value.Render(meta.VendorName) + "\n")
		b.WriteString(m.styles.Label.Render("part") + m.styles.Value.Render(meta.PartNumber) + "\n")
		b.WriteString(m.styles.Label.Render("serial") + m.styles.Value.Render(meta.SerialNumber) + "\n")
	}
	b.WriteString(m.styles.Label.Render("captures") + m.styles.Value.Render(fmt.Sprintf("%d", len(rec.Sources))) + "\n")
}

func (m Model) renderStatusBar(b *strings.Builder) {
	var status string
	if m.connected {
		status = m.styles.StatusOnline.Render("● connected")
	} else {
		status = m.styles.StatusOffline.Render("○ offline")
	}

	extra := m.statusMsg
	if m.errorMsg != "" {
		extra = m.styles.Error.Render(m.errorMsg)
	}
	b.WriteString(m.styles.StatusBar.Render(status+"  "+extra) + "\n")
}
