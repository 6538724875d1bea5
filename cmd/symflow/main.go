// Command symflow analyzes Go source files with the symbolic walker and
// reports branch conditions that can only ever evaluate one way.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
	log "github.com/sirupsen/logrus"

	"github.com/symflow/symflow"
	"github.com/symflow/symflow/gofront"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("symflow", flag.ContinueOnError)
	verbose := fs.Bool("v", false, "verbose exploration trace")
	maxNodes := fs.Int("max-nodes", symflow.DefaultMaxNodes, "exploration node budget per function")
	maxVisits := fs.Int("max-visits", symflow.DefaultMaxVisits, "visit bound per program point")
	dump := fs.Bool("dump", false, "dump the lowered graph and terminal states")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		usage()
		return flag.ErrHelp
	}

	log.SetLevel(log.WarnLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	rpt := &reporter{fset: token.NewFileSet()}
	for _, path := range fs.Args() {
		file, err := parser.ParseFile(rpt.fset, path, nil, 0)
		if err != nil {
			return err
		}
		for _, decl := range file.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok {
				continue
			}
			if err := analyze(fd, rpt, *maxNodes, *maxVisits, *dump); err != nil {
				return err
			}
		}
	}

	if rpt.findings == 0 {
		color.Green.Println("no findings")
	}
	return nil
}

func analyze(fd *ast.FuncDecl, rpt *reporter, maxNodes, maxVisits int, dump bool) error {
	a, err := gofront.Build(fd)
	if errors.Is(err, gofront.ErrUnsupported) {
		log.Warnf("[front] skipping %s: %v", fd.Name.Name, err)
		return nil
	} else if err != nil {
		return err
	}

	w := symflow.NewWalker(a.Graph, symflow.NewArena())
	w.Symbols = a.Symbols
	w.MaxNodes = maxNodes
	w.MaxVisits = maxVisits

	result, err := w.Walk()
	if err != nil {
		return fmt.Errorf("%s: %w", a.Name, err)
	}

	if result.Status == symflow.StatusAborted {
		color.Yellow.Printf("%s: exploration aborted after %d nodes; conditions not checked\n", a.Name, result.Steps)
		return nil
	}

	for _, b := range a.Graph.Blocks {
		if b.Kind != symflow.BlockBranch || b.Branch != symflow.BranchIf {
			continue
		}
		trueSeen, falseSeen := result.ConditionOutcome(b)
		if trueSeen == falseSeen {
			continue
		}
		rpt.report(a.Name, b.Syntax, trueSeen)
	}

	if dump {
		fmt.Printf("=== %s: graph\n", a.Name)
		spew.Fdump(os.Stdout, a.Graph)
		for i, s := range result.TerminalStates {
			fmt.Printf("=== %s: terminal state %d/%d\n", a.Name, i+1, len(result.TerminalStates))
			fmt.Print(s.Dump())
		}
	}
	return nil
}

type reporter struct {
	fset     *token.FileSet
	findings int
}

func (r *reporter) report(fn string, syntax any, outcome bool) {
	r.findings++

	pos, text := "?", "?"
	if node, ok := syntax.(ast.Node); ok {
		pos = r.fset.Position(node.Pos()).String()
		var buf bytes.Buffer
		if err := printer.Fprint(&buf, r.fset, node); err == nil {
			text = buf.String()
		}
	}

	verdict := color.Red.Sprint("always false")
	if outcome {
		verdict = color.Red.Sprint("always true")
	}
	fmt.Printf("%s: %s: condition %q is %s\n", pos, fn, text, verdict)
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Symflow explores Go functions symbolically and flags conditions
that evaluate the same way on every feasible path.

Usage:

	symflow [flags] <file.go> [file.go ...]

The flags are:

	-v           verbose exploration trace
	-max-nodes   exploration node budget per function
	-max-visits  visit bound per program point
	-dump        dump terminal states of each function
`[1:])
}
