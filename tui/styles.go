package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Simple Palette inspired by standard terminal dark themes
var (
	// Colors
	ColorPrimary   = lipgloss.Color("255") // White
	ColorSecondary = lipgloss.Color("240") // Dark Gray
	ColorAccent    = lipgloss.Color("39")  // Blue / Cyan
	ColorSuccess   = lipgloss.Color("42")  // Green
	ColorError     = lipgloss.Color("196") // Red
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorDim       = lipgloss.Color("240") // Dimmed text
	ColorAuto      = lipgloss.Color("177") // Violet, suggested nodes

	// Backgrounds (only used for highlighting lines or headers)
	ColorHighlightBg = lipgloss.Color("236") // Very dark gray background for active items
)

// Shared styles - minimal and clean
var (
	// Standard Text
	StyleNormal = lipgloss.NewStyle().Foreground(ColorPrimary)
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDim)
	StyleBold   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	// Status & Feedback
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)

	// UI Elements
	StyleBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorSecondary)

	StyleTitle  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent).MarginBottom(1)
	StylePrompt = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

	// Tab Bar
	StyleTabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent).
			Padding(0, 1)

	StyleTabInactive = lipgloss.NewStyle().
				Foreground(ColorDim).
				Padding(0, 1)

	// Sidebar and list cursor
	StyleListItemActive = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true)

	// Highlight markers
	StyleMarkAuto   = lipgloss.NewStyle().Foreground(ColorAuto)
	StyleMarkManual = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)

	// Chat
	StyleUser    = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	StyleSQL     = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleCard    = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(ColorDim).Padding(0, 1)
	StyleLoading = lipgloss.NewStyle().Foreground(ColorDim).Italic(true)

	// Toasts
	StyleToastInfo    = lipgloss.NewStyle().Foreground(ColorPrimary).Background(ColorHighlightBg).Padding(0, 1)
	StyleToastSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Background(ColorHighlightBg).Padding(0, 1)
	StyleToastError   = lipgloss.NewStyle().Foreground(ColorError).Background(ColorHighlightBg).Padding(0, 1)

	// Modal dialogs
	StyleModal = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorAccent).
			Padding(1, 2)

	// Bottom Bar
	StyleStatusBar = lipgloss.NewStyle().
			Foreground(ColorSecondary)

	// Help Keys
	StyleHelpKey = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	StyleHelpDesc = lipgloss.NewStyle().
			Foreground(ColorDim)
)
