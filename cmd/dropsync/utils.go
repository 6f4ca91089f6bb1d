package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	dsync "github.com/openmined/dropsync/internal/sync"
)

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

func outcomeStyle(o dsync.Outcome) lipgloss.Style {
	switch o {
	case dsync.OutcomeTransferred, dsync.OutcomeCreated:
		return green
	case dsync.OutcomeFailed:
		return red
	case dsync.OutcomeSkippedIncomplete:
		return yellow
	}
	return gray
}

// plainTable is a borderless table with columns separated by spaces.
func plainTable() *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false)
}
