// Command revtool runs the non-interactive analyze-and-render pipeline
// spec.md §6 describes: parse a PE image, recover its functions and
// control flow, and write pseudo-code/C/Rust source into a project
// folder under the workspace.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/revtool/revtool/asmx"
	"github.com/revtool/revtool/common"
	"github.com/revtool/revtool/peimg"
	"github.com/revtool/revtool/program"
	"github.com/revtool/revtool/reloc"
	"github.com/revtool/revtool/render"
	"github.com/revtool/revtool/workspace"
)

// Config mirrors the flag-driven globals the teacher's main.go uses for
// its own Config struct.
type Config struct {
	Mode       string
	Lang       string
	Workers    int
	Force      bool
	Reassemble string
	Unresolved string
}

var (
	modeFlag       = flag.String("mode", "by-function", "output layout: single, by-type, or by-function")
	langFlag       = flag.String("lang", "pseudo", "output language: pseudo, c, rust, or all")
	workersFlag    = flag.Int("workers", 4, "maximum number of parallel rendering workers")
	forceFlag      = flag.Bool("force", false, "overwrite an existing, non-empty project directory")
	showVersion    = flag.Bool("version", false, "display version information and exit")
	reassembleFlag = flag.String("reassemble", "", "path to an edited assembly listing; when set, skip rendering and instead relocate+assemble+reassemble the listing back into a patched PE")
	unresolvedFlag = flag.String("unresolved", "fail", "policy for symbolic references the relocator can't resolve: fail or skip")
)

const versionString = "revtool, x86-64 PE reverse-engineering toolchain"

func init() {
	flag.Usage = customUsage
}

func customUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] FILE\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Analyze a PE image and render its recovered functions as source.")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
}

func parseFlags() Config {
	flag.Parse()
	cfg := Config{
		Mode:       *modeFlag,
		Lang:       *langFlag,
		Workers:    *workersFlag,
		Force:      *forceFlag,
		Reassemble: *reassembleFlag,
		Unresolved: *unresolvedFlag,
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > 16 {
		cfg.Workers = 16
	}
	return cfg
}

func parseUnresolvedPolicy(s string) (reloc.Policy, error) {
	switch s {
	case "fail":
		return reloc.PolicyFail, nil
	case "skip":
		return reloc.PolicySkip, nil
	default:
		return 0, fmt.Errorf("unknown -unresolved %q (want fail or skip)", s)
	}
}

func parseMode(s string) (render.Mode, error) {
	switch s {
	case "single":
		return render.ModeSingle, nil
	case "by-type":
		return render.ModeByType, nil
	case "by-function":
		return render.ModeByFunction, nil
	default:
		return 0, fmt.Errorf("unknown -mode %q (want single, by-type, or by-function)", s)
	}
}

func parseLangs(s string) ([]render.Lang, error) {
	switch s {
	case "pseudo":
		return []render.Lang{render.LangPseudo}, nil
	case "c":
		return []render.Lang{render.LangC}, nil
	case "rust":
		return []render.Lang{render.LangRust}, nil
	case "all":
		return []render.Lang{render.LangPseudo, render.LangC, render.LangRust}, nil
	default:
		return nil, fmt.Errorf("unknown -lang %q (want pseudo, c, rust, or all)", s)
	}
}

func main() {
	os.Exit(run())
}

// run implements spec.md §6's exit-code contract: 0 success, 1 a
// handled failure (bad input, write error), 2 usage error.
func run() int {
	cfg := parseFlags()

	if *showVersion {
		fmt.Println(versionString)
		return 0
	}

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		return 2
	}
	inputPath := args[0]

	mode, err := parseMode(cfg.Mode)
	if err != nil {
		printError(err)
		return 2
	}
	langs, err := parseLangs(cfg.Lang)
	if err != nil {
		printError(err)
		return 2
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		printError(fmt.Errorf("reading %q: %w", inputPath, err))
		return 1
	}

	img, perr := peimg.Parse(data, peimg.ParseOptions{})
	if perr != nil {
		printError(perr)
		return 1
	}

	proj, err := workspace.Open(workspace.Root(), inputPath, cfg.Force)
	if err != nil {
		printError(err)
		return 1
	}
	name := baseName(inputPath)

	if cfg.Reassemble != "" {
		policy, perr := parseUnresolvedPolicy(cfg.Unresolved)
		if perr != nil {
			printError(perr)
			return 2
		}
		if err := reassembleFromListing(proj, img, name, cfg.Reassemble, policy); err != nil {
			printError(err)
			return 1
		}
		printOK(fmt.Sprintf("wrote patched image to %s", proj.BuildDir))
		return 0
	}

	prog := program.Analyze(img)
	printStatus(fmt.Sprintf("recovered %d functions", len(prog.Functions)))

	if err := writeReport(proj, img, name); err != nil {
		printError(err)
		return 1
	}

	if err := writeFullAsm(proj, prog, name); err != nil {
		printError(err)
		return 1
	}

	written, err := renderAll(proj, prog, langs, mode, cfg.Workers, name)
	if err != nil {
		printError(err)
		return 1
	}

	if err := writeReadme(proj, prog, name, written); err != nil {
		printError(err)
		return 1
	}

	printOK(fmt.Sprintf("wrote output to %s", proj.SourceDir))
	return 0
}

// baseName strips the directory and extension from an input path,
// matching workspace.ProjectDir's own basename rule so every emitted
// file carries the same <name> prefix as the project directory.
func baseName(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// reassembleFromListing drives the decompile-edit-reassemble round trip
// spec.md §1's data-flow diagram describes: read an edited assembly
// listing, resolve its symbolic import/data/string references against
// the original image (C9), assemble the result against the .text
// section's base address (C8), and patch it back into a cloned copy of
// the original PE (C10).
func reassembleFromListing(proj *workspace.Project, img *peimg.Image, name, listingPath string, policy reloc.Policy) error {
	src, err := os.ReadFile(listingPath)
	if err != nil {
		return fmt.Errorf("reading %q: %w", listingPath, err)
	}

	lines, aerr := asmx.Parse(string(src))
	if aerr != nil {
		return fmt.Errorf("parsing %q: %w", listingPath, aerr)
	}

	res, rerr := reloc.Relocate(lines, img, policy)
	if rerr != nil {
		return fmt.Errorf("relocating %q: %w", listingPath, rerr)
	}
	for _, u := range res.Unresolved {
		printStatus(fmt.Sprintf("unresolved reference %q at line %d", u.Label, u.Line))
	}
	printStatus(relocationResult(res).String())

	idx, ok := img.TextSection()
	if !ok {
		return fmt.Errorf("%s has no .text section to reassemble against", name)
	}
	base := img.ImageBase + uint64(img.Sections[idx].VAddr)

	newText, aerr := asmx.AssembleLines(res.Lines, base, reloc.Symbols(res))
	if aerr != nil {
		return fmt.Errorf("assembling %q: %w", listingPath, aerr)
	}

	patched, perr := peimg.Reassemble(img, newText, peimg.ReassembleOptions{})
	if perr != nil {
		return fmt.Errorf("reassembling %q: %w", name, perr)
	}

	path := filepath.Join(proj.BuildDir, name+"_patched.exe")
	return workspace.WriteFileAtomic(path, patched, 0o644)
}

// relocationResult summarizes a reloc.Result as a common.OperationResult,
// the applied/skipped outcome type from common: full resolution reports
// applied, any leftover unresolved reference (only reachable under
// reloc.PolicySkip; PolicyFail would have already returned an error)
// reports skipped.
func relocationResult(res reloc.Result) *common.OperationResult {
	if len(res.Unresolved) > 0 {
		return common.NewSkipped(fmt.Sprintf("%d unresolved reference(s)", len(res.Unresolved)))
	}
	return common.NewApplied("resolved symbolic references", len(res.Resolved))
}

func writeReport(proj *workspace.Project, img *peimg.Image, name string) error {
	var b bytes.Buffer
	if err := img.WriteInfoReport(&b); err != nil {
		return fmt.Errorf("writing analysis report: %w", err)
	}
	path := filepath.Join(proj.ReportsDir, name+"_pe_info.txt")
	return workspace.WriteFileAtomic(path, b.Bytes(), 0o644)
}

func writeFullAsm(proj *workspace.Project, prog *program.AnalyzedProgram, name string) error {
	path := filepath.Join(proj.SourceDir, name+"_full.asm")
	return workspace.WriteFileAtomic(path, []byte(render.FullAsmListing(prog)), 0o644)
}

// writeReadme writes the summary index and provenance stamp spec.md §6
// names as README.md: a record of what was analyzed, when, and which
// output files this run produced.
func writeReadme(proj *workspace.Project, prog *program.AnalyzedProgram, name string, written []render.File) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", name)
	fmt.Fprintf(&b, "Generated by %s on %s.\n\n", versionString, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- image base: %s\n", common.HexVA(prog.Image.ImageBase))
	fmt.Fprintf(&b, "- entry point: %s\n", common.HexVA(prog.Image.EntryVA()))
	fmt.Fprintf(&b, "- functions recovered: %d\n", len(prog.Functions))
	fmt.Fprintf(&b, "- globals recovered: %d\n", len(prog.Globals))
	fmt.Fprintf(&b, "- strings recovered: %d\n", len(prog.Strings))
	fmt.Fprintf(&b, "\n## Output files\n\n")
	fmt.Fprintf(&b, "- reports/%s_pe_info.txt\n", name)
	fmt.Fprintf(&b, "- source/%s_full.asm\n", name)
	for _, f := range written {
		fmt.Fprintf(&b, "- source/%s\n", f.Name)
	}
	path := filepath.Join(proj.Dir, "README.md")
	return workspace.WriteFileAtomic(path, b.Bytes(), 0o644)
}

// renderAll fans the per-language render+write work out across a worker
// pool, grounded on main.go's processFilesParallel jobs/results channel
// pattern. It returns every File it wrote so the caller can index them
// into README.md without re-rendering.
func renderAll(proj *workspace.Project, prog *program.AnalyzedProgram, langs []render.Lang, mode render.Mode, workers int, name string) ([]render.File, error) {
	type job struct {
		lang render.Lang
	}
	jobs := make(chan job, len(langs))
	results := make(chan []render.File, len(langs))
	errs := make(chan error, len(langs))

	var wg sync.WaitGroup
	n := workers
	if n > len(langs) {
		n = len(langs)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				files := render.Render(prog, j.lang, mode, name)
				for _, f := range files {
					path := filepath.Join(proj.SourceDir, f.Name)
					if err := workspace.WriteFileAtomic(path, []byte(f.Content), 0o644); err != nil {
						errs <- err
						return
					}
				}
				results <- files
			}
		}()
	}
	for _, l := range langs {
		jobs <- job{lang: l}
	}
	close(jobs)
	wg.Wait()
	close(errs)
	close(results)

	var firstErr error
	for e := range errs {
		if firstErr == nil {
			firstErr = e
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	var written []render.File
	for files := range results {
		written = append(written, files...)
	}
	return written, nil
}

func printStatus(msg string) {
	fmt.Printf("%s %s\n", common.SymbolInfo, msg)
}

func printOK(msg string) {
	color.New(color.FgGreen).Printf("%s %s\n", common.SymbolCheck, msg)
}

func printError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "%s %v\n", common.SymbolCross, err)
}
