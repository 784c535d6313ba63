package cmd

import (
	"io"

	"github.com/fatih/color"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

const banner = `
  _                          _           
 | |_ _   _ _ __  _ __   ___| | ___ __ _ 
 | __| | | | '_ \| '_ \ / _ \ |/ __/ _` + "`" + ` |
 | |_| |_| | | | | | | |  __/ | (_| (_| |
  \__|\__,_|_| |_|_| |_|\___|_|\___\__,_|
`

func printBanner(w io.Writer) {
	color.New(color.FgBlue).Fprint(w, banner)
	color.New(color.FgGreen).Fprintf(w, "  Private VPN Certificate Authority - Version %s\n\n", Version)
}
