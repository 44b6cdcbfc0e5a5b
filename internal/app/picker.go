package app

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/truncate"

	"github.com/buckleypaul/certbench/internal/ui"
)

type PickerItem struct {
	Label string
	Value string
	// Group is shown as a heading above the first item of each group.
	Group string
	Desc  string
}

// PickerSelectedMsg carries the Value of the chosen item.
type PickerSelectedMsg struct {
	Value string
}

type PickerClosedMsg struct{}

// Picker is a filterable overlay list. Matches rank substring hits above
// scattered (fuzzy) hits; ties keep their original order.
type Picker struct {
	title    string
	noun     string
	items    []PickerItem
	filtered []PickerItem
	input    textinput.Model
	cursor   int
	width    int
	height   int
}

const (
	maxPickerRows  = 12
	pickerMinWidth = 34
	pickerMaxWidth = 72
)

func NewPicker(title, noun string) *Picker {
	ti := textinput.New()
	ti.Placeholder = "filter by name or id"
	ti.Prompt = "/ "
	ti.CharLimit = 128
	ti.Focus()
	return &Picker{title: title, noun: noun, input: ti}
}

func (p *Picker) SetItems(items []PickerItem) {
	p.items = items
	p.filter()
}

func (p *Picker) SetSize(w, h int) {
	p.width = w
	p.height = h
}

func (p *Picker) Update(msg tea.Msg) (*Picker, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			return p, func() tea.Msg { return PickerClosedMsg{} }
		case "enter":
			if p.cursor < len(p.filtered) {
				v := p.filtered[p.cursor].Value
				return p, func() tea.Msg { return PickerSelectedMsg{Value: v} }
			}
			return p, nil
		case "up":
			p.move(-1)
			return p, nil
		case "down":
			p.move(1)
			return p, nil
		case "pgup":
			p.move(-maxPickerRows)
			return p, nil
		case "pgdown":
			p.move(maxPickerRows)
			return p, nil
		case "ctrl+u":
			p.input.SetValue("")
			p.filter()
			return p, nil
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	p.filter()
	return p, cmd
}

func (p *Picker) move(delta int) {
	p.cursor = min(max(p.cursor+delta, 0), max(len(p.filtered)-1, 0))
}

func (p *Picker) View() string {
	width := min(max(p.width-4, pickerMinWidth), pickerMaxWidth)
	inner := width - 4

	var b strings.Builder
	p.input.Width = inner - 3
	b.WriteString(p.input.View())
	b.WriteString("\n\n")

	rows := min(maxPickerRows, len(p.filtered))
	start, end := 0, rows
	if p.cursor >= rows {
		start = p.cursor - rows + 1
		end = p.cursor + 1
	}

	group := ""
	if start > 0 {
		group = p.filtered[start-1].Group
	}
	for i := start; i < end; i++ {
		it := p.filtered[i]
		if it.Group != "" && it.Group != group {
			b.WriteString(ui.DimStyle.Render(it.Group) + "\n")
			group = it.Group
		}
		line := it.Label
		if it.Desc != "" {
			line += "  " + ui.DimStyle.Render(it.Desc)
		}
		line = truncate.StringWithTail(line, uint(max(inner-4, 1)), "…")
		if i == p.cursor {
			b.WriteString(ui.SidebarActiveStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	if len(p.filtered) == 0 {
		b.WriteString(ui.DimStyle.Render("  No matches") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(ui.DimStyle.Render(fmt.Sprintf("(%d/%d %s)  esc:close", len(p.filtered), len(p.items), p.noun)))

	return ui.Panel(ui.BoldStyle.Render(p.title), b.String(), width, 0, true)
}

func (p *Picker) filter() {
	q := strings.ToLower(strings.TrimSpace(p.input.Value()))
	if q == "" {
		p.filtered = p.items
		p.move(0)
		return
	}

	type hit struct {
		item PickerItem
		rank int
	}
	var hits []hit
	for _, it := range p.items {
		if r, ok := matchRank(it, q); ok {
			hits = append(hits, hit{it, r})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rank < hits[j].rank })

	p.filtered = make([]PickerItem, len(hits))
	for i, h := range hits {
		p.filtered[i] = h.item
	}
	p.move(0)
}

// matchRank is 0 for a substring hit on the label, 1 on the value and 2
// for an in-order scattered hit on either.
func matchRank(it PickerItem, q string) (int, bool) {
	label, value := strings.ToLower(it.Label), strings.ToLower(it.Value)
	switch {
	case strings.Contains(label, q):
		return 0, true
	case strings.Contains(value, q):
		return 1, true
	case fuzzyMatch(label, q) || fuzzyMatch(value, q):
		return 2, true
	}
	return 0, false
}

// fuzzyMatch reports whether every byte of query appears in s in order.
func fuzzyMatch(s, query string) bool {
	qi := 0
	for i := 0; i < len(s) && qi < len(query); i++ {
		if s[i] == query[qi] {
			qi++
		}
	}
	return qi == len(query)
}
