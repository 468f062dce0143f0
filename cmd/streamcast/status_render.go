package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

// kindDress returns the bracket label and ANSI color for a status kind.
func kindDress(kind statusKind) (string, string) {
	switch kind {
	case statusOK:
		return "OK", "\x1b[32m"
	case statusWarn:
		return "WARN", "\x1b[33m"
	case statusError:
		return "ERROR", "\x1b[31m"
	default:
		return "INFO", "\x1b[34m"
	}
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag, color := kindDress(kind)
	statusText := "[" + tag + "]"
	if message != "" {
		statusText += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return color + line + ansiReset
	}
	return line
}

func renderSectionHeader(title string, colorize bool) []string {
	_, blue := kindDress(statusInfo)
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = blue + line + ansiReset
		rule = blue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
