package cli

import (
	"fmt"
	"io"
)

func PrintExtendedHelp(w io.Writer) {
	fmt.Fprintf(w, `MedRemind %s - medication reminders and adherence tracking

Usage:
  medremind [flags] [command]

Commands:
  serve                 Run the reminder service and HTTP API (default)
  status                Show today's pending and upcoming doses
  meds                  List medications and their slots
  take <med> <slot>     Mark a dose as taken (slot id or HH:MM)
  skip <med> <slot>     Mark a dose as skipped (-reason text)
  undo <med> <slot>     Return a resolved dose to pending
  stats                 Adherence statistics (-med id, -days n)
  insights              Behavior insights and suggestions (-days n)
  history [date]        Archived days (YYYY-MM-DD, or -days n for recent)
  rollover              Close out yesterday if the day has changed
  config <cmd>          Inspect configuration
  doctor                Check configuration for problems
  version               Print the version
  help                  Show this help

Flags:
  -config string        Path to config file
  -data string          Path to data directory
`, Version)
}

func PrintConfigHelp(w io.Writer) {
	fmt.Fprintln(w, `Usage: medremind config <command>

Commands:
  get <key>    Print one configuration value
  path         Print the config file location
  show         Print the config file`)
}
