package display

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// MessageType selects the colour and prefix of a Box
type MessageType int

const (
	InfoMessage MessageType = iota
	SuccessMessage
	WarningMessage
	ErrorMessage
)

const (
	topLeft     = "╭"
	topRight    = "╮"
	bottomLeft  = "╰"
	bottomRight = "╯"
	horizontal  = "─"
	vertical    = "│"
)

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Box is a builder for a framed message
type Box struct {
	messageType MessageType
	title       string
	content     []string
	width       int
}

// NewBox creates a box sized to the terminal
func NewBox(messageType MessageType, title string) *Box {
	return &Box{
		messageType: messageType,
		title:       title,
		width:       terminalWidth() - 8,
	}
}

// WithWidth overrides the maximum box width
func (b *Box) WithWidth(width int) *Box {
	b.width = width
	return b
}

func (b *Box) AddLine(text string) *Box {
	b.content = append(b.content, text)
	return b
}

func (b *Box) AddLinef(format string, args ...interface{}) *Box {
	return b.AddLine(fmt.Sprintf(format, args...))
}

func (b *Box) AddBullet(text string) *Box {
	b.content = append(b.content, "• "+text)
	return b
}

// Render returns the framed message
func (b *Box) Render() string {
	style, prefix := b.styleAndPrefix()
	contentWidth := b.width - 6
	if contentWidth < 10 {
		contentWidth = 10
	}

	var lines []string
	for _, line := range append([]string{b.title}, b.content...) {
		if utf8.RuneCountInString(line) <= contentWidth {
			lines = append(lines, line)
		} else {
			lines = append(lines, wrapText(line, contentWidth)...)
		}
	}

	boxWidth := 6
	for _, line := range lines {
		if n := utf8.RuneCountInString(line) + 6; n > boxWidth {
			boxWidth = n
		}
	}

	var sb strings.Builder
	sb.WriteString(style.Render(topLeft+strings.Repeat(horizontal, boxWidth-2)+topRight) + "\n")

	first := lines[0]
	fmt.Fprintf(&sb, "%s %s %s%s %s\n",
		style.Render(vertical),
		style.Bold(true).Render(prefix),
		style.Bold(true).Render(first),
		strings.Repeat(" ", max(0, boxWidth-utf8.RuneCountInString(first)-4-utf8.RuneCountInString(prefix))),
		style.Render(vertical))

	for _, line := range lines[1:] {
		fmt.Fprintf(&sb, "%s   %s%s %s\n",
			style.Render(vertical),
			line,
			strings.Repeat(" ", max(0, boxWidth-utf8.RuneCountInString(line)-4)),
			style.Render(vertical))
	}

	sb.WriteString(style.Render(bottomLeft + strings.Repeat(horizontal, boxWidth-2) + bottomRight))
	return sb.String()
}

func (b *Box) styleAndPrefix() (lipgloss.Style, string) {
	switch b.messageType {
	case SuccessMessage:
		return successStyle, "✓"
	case WarningMessage:
		return warningStyle, "⚠"
	case ErrorMessage:
		return errorStyle, "✗"
	default:
		return infoStyle, "ℹ"
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := words[0]
	width := utf8.RuneCountInString(current)
	for _, word := range words[1:] {
		n := utf8.RuneCountInString(word)
		if width+n+1 <= maxWidth {
			current += " " + word
			width += n + 1
			continue
		}
		lines = append(lines, current)
		current, width = word, n
	}
	return append(lines, current)
}
