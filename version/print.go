package version

import (
	"fmt"
	"io"
	"os"
)

// FprintVersion writes the version line to w:
//
//	<cmd> <project> <version> (<revision>)
func FprintVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s %s (%s)\n", os.Args[0], Package(), Version(), Revision())
}

// PrintVersion writes FprintVersion's output to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}

// Print returns the one-line version string kingpin's Version() wants,
// e.g. for `revlogctl --version`.
func Print(program string) string {
	return fmt.Sprintf("%s, version %s (revision %s)", program, Version(), Revision())
}
