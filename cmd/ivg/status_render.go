package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"ivg/internal/jobs"
	"ivg/internal/preflight"
)

// tone is how a badge reads at a glance.
type tone int

const (
	toneNeutral tone = iota
	toneGood
	toneBusy
	toneBad
)

const (
	ansiReset  = "\x1b[0m"
	ansiBold   = "\x1b[1m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

const (
	fieldWidth  = 12
	fieldIndent = "  "
)

func (t tone) color() string {
	switch t {
	case toneGood:
		return ansiGreen
	case toneBusy:
		return ansiYellow
	case toneBad:
		return ansiRed
	default:
		return ansiCyan
	}
}

// badge renders a state such as "half_open" as "[half open]".
func badge(state string, t tone, colorize bool) string {
	text := "[" + strings.ReplaceAll(state, "_", " ") + "]"
	if colorize {
		return t.color() + text + ansiReset
	}
	return text
}

// field renders an indented "Label:  value" row.
func field(label, value string) string {
	return fmt.Sprintf("%s%-*s %s", fieldIndent, fieldWidth, label+":", value)
}

// stateField renders a row whose value leads with a state badge.
func stateField(label, state string, t tone, detail string, colorize bool) string {
	value := badge(state, t, colorize)
	if detail != "" {
		value += " " + detail
	}
	return field(label, value)
}

func heading(title string, colorize bool) string {
	title = strings.TrimSpace(title)
	if colorize {
		return ansiBold + title + ansiReset
	}
	return title
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func jobTone(state jobs.State) tone {
	switch state {
	case jobs.StateSucceeded:
		return toneGood
	case jobs.StateFailed:
		return toneBad
	case jobs.StateRunning:
		return toneBusy
	default:
		return toneNeutral
	}
}

// breakerTone reads the provider circuit breaker: closed lets calls through,
// half_open is probing, open rejects.
func breakerTone(state string) tone {
	switch state {
	case "closed":
		return toneGood
	case "half_open":
		return toneBusy
	default:
		return toneBad
	}
}

func checkBadge(check preflight.Result) (string, tone) {
	switch {
	case check.Passed:
		return "ok", toneGood
	case check.Required:
		return "failed", toneBad
	default:
		return "degraded", toneBusy
	}
}

// renderJobLine is the one-line form used while following a job.
func renderJobLine(snap jobs.Snapshot, colorize bool) string {
	return fmt.Sprintf("%s %s %s #%d", badge(string(snap.State), jobTone(snap.State), colorize), snap.JobID, snap.Kind, snap.Sequence)
}

// renderSnapshot prints one job snapshot as a short block.
func renderSnapshot(out io.Writer, snap jobs.Snapshot, colorize bool) {
	fmt.Fprintln(out, heading("Job "+snap.JobID, colorize))
	fmt.Fprintln(out, stateField("State", string(snap.State), jobTone(snap.State), "", colorize))
	fmt.Fprintln(out, field("Kind", string(snap.Kind)))
	fmt.Fprintln(out, field("Sequence", fmt.Sprint(snap.Sequence)))
	if snap.OutputRef != "" {
		fmt.Fprintln(out, field("Output", snap.OutputRef))
	}
	if snap.Error != nil {
		detail := snap.Error.Message
		if snap.Error.Kind.Retryable() {
			detail += " (retryable)"
		}
		fmt.Fprintln(out, stateField("Error", string(snap.Error.Kind), toneBad, detail, colorize))
	}
}
