package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mdp/qrterminal/v3"
	"golang.org/x/term"
)

// printBanner shows the public URL and, on a terminal, a QR code for it.
func printBanner(w io.Writer, url string) {
	fmt.Fprintf(w, "\n  Chat is live at %s\n\n", url)

	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return
	}
	qrterminal.GenerateHalfBlock(url, qrterminal.L, w)
	fmt.Fprintln(w)
}
