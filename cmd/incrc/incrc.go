// Command incrc demonstrates the incremental compilation engine end to
// end against a scripted in-memory project: a first run compiles
// everything, a second run after a simulated edit recompiles only the
// edited source and its dependents, and the resulting analysis is
// persisted between the two.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/stackb/incrc/pkg/analysis"
	"github.com/stackb/incrc/pkg/analysis/codec"
	"github.com/stackb/incrc/pkg/apimodel"
	"github.com/stackb/incrc/pkg/callback"
	"github.com/stackb/incrc/pkg/classfile"
	"github.com/stackb/incrc/pkg/config"
	"github.com/stackb/incrc/pkg/cycle"
	"github.com/stackb/incrc/pkg/ids"
	"github.com/stackb/incrc/pkg/stamp"
)

var (
	configFile   string
	analysisFile string
	stageDir     string
	verbose      bool
)

func main() {
	log.SetPrefix("incrc: ")
	log.SetFlags(0) // don't print timestamps

	fs := flag.NewFlagSet("incrc", flag.ContinueOnError)
	fs.StringVar(&configFile, "config_file", "", "optional YAML options file")
	fs.StringVar(&analysisFile, "analysis_file", "", "where to persist the analysis between runs (default: temp dir)")
	fs.StringVar(&stageDir, "stage_dir", "", "class-file staging directory (default: temp dir)")
	fs.BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := config.Default()
	if configFile != "" {
		var err error
		opts, err = config.Load(configFile)
		if err != nil {
			return err
		}
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if stageDir == "" {
		stageDir = filepath.Join(os.TempDir(), "incrc-stage")
	}
	if analysisFile == "" {
		analysisFile = filepath.Join(os.TempDir(), "incrc-analysis.bin")
	}

	project := newFixtureProject()

	// First run: no previous analysis, everything compiles.
	prev := loadAnalysis(analysisFile)
	result, err := runOnce(project, prev, opts, logger)
	if err != nil {
		return err
	}
	log.Printf("initial build: %d cycle(s), compiled=%v", result.Cycles, result.Compiled)
	if err := saveAnalysis(analysisFile, result.Analysis); err != nil {
		return err
	}

	// Simulated edit: add a public member to core.Parser. Only Parser's
	// source and the sources using it should recompile.
	project.edit("parser.x", func(c *apimodel.ClassLike) {
		c.Members = append(c.Members, apimodel.Member{Name: "parseAll", Signature: "(List)List"})
	})

	prev = loadAnalysis(analysisFile)
	result, err = runOnce(project, prev, opts, logger)
	if err != nil {
		return err
	}
	log.Printf("incremental build: %d cycle(s), recompiled %v", result.Cycles, project.lastCompiled)
	return saveAnalysis(analysisFile, result.Analysis)
}

func runOnce(project *fixtureProject, prev *analysis.Analysis, opts config.Options, logger zerolog.Logger) (cycle.Result, error) {
	mgr, err := classfile.Acquire(stageDir, classfile.WithLogger(logger))
	if err != nil {
		return cycle.Result{}, err
	}
	d := cycle.New(project, nil, project.compile, mgr, opts, cycle.WithLogger(logger))
	return d.Run(context.Background(), project.sourceIDs(), prev)
}

func loadAnalysis(path string) *analysis.Analysis {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	a, _, err := codec.Read(f)
	if err != nil {
		// a malformed file counts the same as no previous analysis
		return nil
	}
	return a
}

func saveAnalysis(path string, a *analysis.Analysis) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return codec.Write(f, a, true)
}

// fixtureSource is one scripted source file: the classes it declares, the
// classes each of them references, and the names it uses.
type fixtureSource struct {
	class     apimodel.ClassLike
	memberRef []ids.ClassName
	parents   []ids.ClassName
	usedNames []string
	version   int
}

// fixtureProject is a scripted three-source project: a parser, a printer
// built on the parser's output, and a checker inheriting the printer.
type fixtureProject struct {
	sources      map[ids.SourceID]*fixtureSource
	lastCompiled []ids.SourceID
}

func newFixtureProject() *fixtureProject {
	return &fixtureProject{sources: map[ids.SourceID]*fixtureSource{
		"parser.x": {
			class: apimodel.ClassLike{Name: "core.Parser", Members: []apimodel.Member{
				{Name: "parse", Signature: "(String)Tree"},
			}},
		},
		"printer.x": {
			class: apimodel.ClassLike{Name: "core.Printer", Members: []apimodel.Member{
				{Name: "print", Signature: "(Tree)String"},
			}},
			memberRef: []ids.ClassName{"core.Parser"},
			usedNames: []string{"parse", "parseAll"},
		},
		"checker.x": {
			class: apimodel.ClassLike{Name: "core.Checker", Members: []apimodel.Member{
				{Name: "check", Signature: "(Tree)Bool"},
			}},
			memberRef: []ids.ClassName{"core.Printer"},
			parents:   []ids.ClassName{"core.Printer"},
		},
	}}
}

func (p *fixtureProject) sourceIDs() []ids.SourceID {
	out := make([]ids.SourceID, 0, len(p.sources))
	for s := range p.sources {
		out = append(out, s)
	}
	return out
}

func (p *fixtureProject) edit(src ids.SourceID, f func(*apimodel.ClassLike)) {
	fs := p.sources[src]
	f(&fs.class)
	fs.version++
}

// Stamp implements stamp.Reader over the fixture's version counters.
func (p *fixtureProject) Stamp(path string) (stamp.Stamp, error) {
	fs, ok := p.sources[ids.SourceID(path)]
	if !ok {
		return "", nil
	}
	return stamp.Stamp(string(rune('a' + fs.version))), nil
}

// compile replays the scripted facts for each requested source.
func (p *fixtureProject) compile(ctx context.Context, sources []ids.SourceID, cb *callback.Callback) error {
	p.lastCompiled = append([]ids.SourceID(nil), sources...)
	for _, src := range sources {
		fs, ok := p.sources[src]
		if !ok {
			continue
		}
		name := fs.class.Name
		product := ids.ProductID(filepath.Join(os.TempDir(), "incrc-out", string(name)+".class"))
		cb.GeneratedNonLocalClass(src, product, ids.BinaryClassName(name), name)
		cb.API(src, fs.class, false)
		for _, on := range fs.memberRef {
			cb.ClassDependency(on, name, analysis.MemberRef)
		}
		for _, on := range fs.parents {
			cb.ClassDependency(on, name, analysis.Inheritance)
		}
		for _, n := range fs.usedNames {
			cb.UsedName(name, n, []apimodel.UseScope{apimodel.Default})
		}
	}
	cb.DependencyPhaseCompleted()
	cb.APIPhaseCompleted()
	return nil
}
