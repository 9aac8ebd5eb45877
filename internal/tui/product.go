package tui

import (
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dcc-ex/exinstaller/internal/product"
)

type productStep struct {
	baseStep
	cursor int
}

func newProductStep() *productStep {
	return &productStep{}
}

func (s *productStep) name() string { return "select_product" }
func (s *productStep) title() string { return "Select product" }
func (s *productStep) help() string { return "↑↓:nav | Enter:select" }

func (s *productStep) enter(*App) tea.Cmd { return nil }

func (s *productStep) products(a *App) []product.Product {
	return a.deps.Catalog.Products()
}

func (s *productStep) update(a *App, msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	products := s.products(a)
	switch key.String() {
	case "up", "k":
		if s.cursor > 0 {
			s.cursor--
		}
	case "down", "j":
		if s.cursor < len(products)-1 {
			s.cursor++
		}
	case "enter":
		if len(products) == 0 {
			return nil
		}
		p := products[s.cursor]
		if a.session.product.Key != p.Key {
			a.session = session{product: p}
		}
		a.session.productDir = p.Dir(a.deps.RepoDir)
		return a.advance()
	}
	return nil
}

func (s *productStep) view(a *App) string {
	var b strings.Builder
	b.WriteString("\n  Which DCC-EX product do you want to install?\n\n")
	var names []string
	for _, p := range s.products(a) {
		names = append(names, p.Name)
	}
	b.WriteString(renderList(names, s.cursor))
	if products := s.products(a); len(products) > 0 {
		p := products[s.cursor]
		b.WriteString("\n  " + mutedStyle.Render("Repository: "+p.RepoURL) + "\n")
		b.WriteString("  " + mutedStyle.Render("Local copy: "+filepath.Clean(p.Dir(a.deps.RepoDir))) + "\n")
	}
	return b.String()
}
