package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
)

const (
	maxRefFileBytes  = 256 << 10
	maxRefTotalBytes = 2 << 20
)

// refWriter renders reference files into a prompt, stopping once the
// total budget is spent.
type refWriter struct {
	e     *Engine
	sb    strings.Builder
	total int
	seen  map[string]bool
}

func (w *refWriter) addFile(label, path string) {
	if w.seen == nil {
		w.seen = map[string]bool{}
	}
	if w.seen[path] {
		return
	}
	w.seen[path] = true
	if w.total >= maxRefTotalBytes {
		fmt.Fprintf(&w.sb, "\n\n### %s\n(omitted: reference budget exhausted)", label)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(&w.sb, "\n\n### %s\n(unreadable: %v)", label, err)
		return
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxRefFileBytes+1))
	if err != nil {
		fmt.Fprintf(&w.sb, "\n\n### %s\n(unreadable: %v)", label, err)
		return
	}
	truncated := len(b) > maxRefFileBytes
	if truncated {
		b = b[:maxRefFileBytes]
	}
	w.total += len(b)
	fmt.Fprintf(&w.sb, "\n\n### %s\n```\n%s\n```", label, strings.TrimRight(string(b), "\n"))
	if truncated {
		w.sb.WriteString("\n(truncated)")
	}
}

func (w *refWriter) missing(label, reason string) {
	fmt.Fprintf(&w.sb, "\n\n### %s\n(not found: %s)", label, reason)
	w.e.log.Warn("prompt reference not found", zap.String("ref", label), zap.String("reason", reason))
}

// expandRef lists the files a reference names relative to base. A ref may
// be a file, a directory (all files beneath it) or a doublestar glob.
func expandRef(base, ref string) ([]string, error) {
	if base == "" {
		return nil, fmt.Errorf("no base directory")
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.ContainsAny(ref, "*?[{") {
		if !doublestar.ValidatePattern(filepath.ToSlash(clean)) {
			return nil, fmt.Errorf("invalid glob")
		}
		matches, err := doublestar.Glob(os.DirFS(base), filepath.ToSlash(clean), doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		return matches, nil
	}
	if !filepath.IsLocal(clean) {
		return nil, fmt.Errorf("path escapes %s", base)
	}
	fi, err := os.Stat(filepath.Join(base, clean))
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{filepath.ToSlash(clean)}, nil
	}
	matches, err := doublestar.Glob(os.DirFS(filepath.Join(base, clean)), "**", doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.ToSlash(filepath.Join(clean, m))
	}
	sort.Strings(out)
	return out, nil
}

// refBase returns the directory a kind of @ref resolves against.
func (e *Engine) refBase(kind ir.RefKind, g *ir.Graph) string {
	switch kind {
	case ir.RefCode:
		return e.Layout.CodeDir
	case ir.RefRunLogs:
		return e.Layout.RunLogsDir
	case ir.RefDocs:
		var latest *ir.DocsContents
		for _, n := range g.NodesOf(ir.OpDocs) {
			if c, err := ir.As[*ir.DocsContents](n); err == nil && c.ResolvedPath != "" {
				latest = c
			}
		}
		if latest != nil {
			return latest.ResolvedPath
		}
		if e.Config.Docs.Root != "" {
			return e.Config.Docs.Root
		}
		return e.SourceDir
	case ir.RefTemplate:
		for _, n := range g.NodesOf(ir.OpTemplate) {
			if c, err := ir.As[*ir.TemplateContents](n); err == nil && c.Path != "" {
				return e.resolveInputPath(e.Config.Template.Root, c.Path)
			}
		}
		if e.Config.Template.Root != "" {
			return e.Config.Template.Root
		}
		return e.SourceDir
	default:
		return ""
	}
}

// renderRefs renders every reference a PROMPT node carries: @kind:path refs,
// outputs of referenced RUN nodes and read-only folders.
func (e *Engine) renderRefs(g *ir.Graph, node *ir.Node, c *ir.PromptContents) string {
	w := &refWriter{e: e}
	for _, kind := range ir.RefKinds() {
		refs := c.Refs(kind)
		if refs == nil {
			continue
		}
		base := e.refBase(kind, g)
		for _, ref := range *refs {
			label := fmt.Sprintf("@%s:%s", kind, ref)
			files, err := expandRef(base, ref)
			if err != nil {
				w.missing(label, err.Error())
				continue
			}
			if len(files) == 0 {
				w.missing(label, "no matching files")
				continue
			}
			for _, f := range files {
				w.addFile(fmt.Sprintf("%s:%s", kind, f), filepath.Join(base, filepath.FromSlash(f)))
			}
		}
	}

	for _, id := range c.RunRefs {
		rn := g.Node(id)
		run, err := ir.As[*ir.RunContents](rn)
		if err != nil || rn.Op != ir.OpRun {
			w.missing(fmt.Sprintf("@run:%d", id), "not a RUN node")
			continue
		}
		if !run.Executed() {
			w.missing(fmt.Sprintf("@run:%d", id), "command has not run yet")
			continue
		}
		fmt.Fprintf(&w.sb, "\n\n### run %d: `%s` exited with %d", id, run.Command, *run.ExitCode)
		for _, f := range []string{run.StdoutFile, run.StderrFile} {
			if f != "" && e.Layout.RunLogsDir != "" {
				w.addFile("run_logs:"+f, filepath.Join(e.Layout.RunLogsDir, f))
			}
		}
	}

	for _, folder := range e.readOnlyFolders(g, node, c) {
		base := e.resolveInputPath("", folder)
		files, err := expandRef(base, ".")
		if err != nil {
			w.missing("read-only:"+folder, err.Error())
			continue
		}
		for _, f := range files {
			w.addFile(fmt.Sprintf("read-only:%s/%s", folder, f), filepath.Join(base, filepath.FromSlash(f)))
		}
	}
	return w.sb.String()
}

// readOnlyFolders merges ro_folder tokens with READ_ONLY predecessors.
func (e *Engine) readOnlyFolders(g *ir.Graph, node *ir.Node, c *ir.PromptContents) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range c.ROFolder {
		add(p)
	}
	for _, id := range g.Predecessors(node.ID) {
		if n := g.Node(id); n != nil && n.Op == ir.OpReadOnly {
			if ro, err := ir.As[*ir.ReadOnlyContents](n); err == nil {
				add(ro.Path)
			}
		}
	}
	return out
}

// buildPromptContent assembles the user message for a PROMPT node.
func (e *Engine) buildPromptContent(g *ir.Graph, node *ir.Node, c *ir.PromptContents, memory []string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(c.Prompt))
	if len(memory) > 0 {
		sb.WriteString("\n\n## Notes from earlier steps\n")
		for _, m := range memory {
			sb.WriteString("- ")
			sb.WriteString(m)
			sb.WriteString("\n")
		}
	}
	if refs := e.renderRefs(g, node, c); refs != "" {
		sb.WriteString("\n\n## Reference material")
		sb.WriteString(refs)
	}
	return sb.String()
}
