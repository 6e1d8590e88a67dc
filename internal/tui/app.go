package tui

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/config"
	"github.com/josiah-nelson/sfplib/internal/store"
)

// Run starts the TUI application.
func Run(cfg *config.Config, st *store.Store, log zerolog.Logger) error {
	m := NewModel(cfg, st, log)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return err
	}
	return nil
}
