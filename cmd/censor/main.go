// Command censor destroys a single file revision's stored content in
// place, setting FlagCensored and leaving a tombstone behind, the way
// the teacher's gitfilter command redacted blob content by path before
// it ever reached storage (spec §9). Unlike gitfilter, which rewrites
// an unparsed git stream before any of it is committed, censor mutates
// an already-committed revlog directly.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/go-revlog/revlog/flagprocessor"
	"github.com/go-revlog/revlog/nodeid"
	"github.com/go-revlog/revlog/repo"
	"github.com/go-revlog/revlog/version"
)

func main() {
	app := kingpin.New("censor", "Irrecoverably replace a stored file revision's content with a tombstone.")
	app.Version(version.Print("censor")).Author("go-revlog")
	app.HelpFlag.Short('h')

	path := app.Arg("path", "Repository root.").Required().String()
	file := app.Arg("file", "Path within the repository whose revision to censor.").Required().String()
	nodeHex := app.Flag("node", "File revision node (hex). Mutually exclusive with --rev.").String()
	rev := app.Flag("rev", "File revision number. Mutually exclusive with --node.").Int()
	debug := app.Flag("debug", "Enable debug-level logging.").Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logrus.New()
	if *debug {
		log.Level = logrus.DebugLevel
	}

	if err := run(log, *path, *file, *nodeHex, *rev); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger, path, file, nodeHex string, rev int) error {
	r, err := repo.Open(path, log)
	if err != nil {
		return err
	}
	fl, err := r.Filelog(file)
	if err != nil {
		return err
	}

	if nodeHex != "" {
		n, err := nodeid.FromHex(nodeHex)
		if err != nil {
			return fmt.Errorf("invalid --node: %w", err)
		}
		rev, err = fl.Rev(n)
		if err != nil {
			return err
		}
	}

	if err := fl.Censor(rev, flagprocessor.CensorTombstone); err != nil {
		return err
	}
	if err := r.Flush(); err != nil {
		return err
	}
	fmt.Printf("censored %s@%d\n", file, rev)
	return nil
}
