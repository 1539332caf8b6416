// Command daggraph renders a repository's changelog DAG as a
// Graphviz dot file, the same way the teacher's gitgraph command
// rendered a git fast-export stream's commit graph.
package main

import (
	"fmt"
	"os"

	"github.com/emicklei/dot"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/go-revlog/revlog/repo"
	"github.com/go-revlog/revlog/version"
)

const nullRev = -1

func main() {
	app := kingpin.New("daggraph", "Render a repository's changelog DAG as Graphviz dot.")
	app.Version(version.Print("daggraph")).Author("go-revlog")
	app.HelpFlag.Short('h')

	repoPath := app.Arg("path", "Repository root.").Required().String()
	output := app.Flag("output", "Dot file to write.").Short('o').Default("dag.dot").String()
	debug := app.Flag("debug", "Enable debug-level logging.").Bool()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logrus.New()
	if *debug {
		log.Level = logrus.DebugLevel
	}

	if err := run(log, *repoPath, *output); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger, repoPath, output string) error {
	r, err := repo.Open(repoPath, log)
	if err != nil {
		return err
	}

	g := dot.NewGraph(dot.Directed)
	nodes := make([]dot.Node, r.Changelog.Len())
	for rev := 0; rev < r.Changelog.Len(); rev++ {
		cs, err := r.Changelog.Read(rev)
		if err != nil {
			return err
		}
		node, err := r.Changelog.Node(rev)
		if err != nil {
			return err
		}
		phase, err := r.Phases.Phase(rev)
		if err != nil {
			return err
		}
		label := fmt.Sprintf("%d:%s\\n%s\\n%s\\n%s", rev, node.Short(), cs.User, cs.Description, phase)
		nodes[rev] = g.Node(label)
	}
	for rev := 0; rev < r.Changelog.Len(); rev++ {
		p1, p2, err := r.Changelog.ParentRevs(rev)
		if err != nil {
			return err
		}
		if p1 != nullRev {
			g.Edge(nodes[p1], nodes[rev], "p1")
		}
		if p2 != nullRev {
			g.Edge(nodes[p2], nodes[rev], "p2")
		}
	}

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(g.String())
	return err
}
