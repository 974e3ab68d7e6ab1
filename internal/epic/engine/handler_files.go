package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/danshapiro/epic/internal/epic/ir"
	"github.com/danshapiro/epic/internal/epic/runtime"
)

// TemplateHandler seeds the code directory from a template directory.
type TemplateHandler struct{}

func (h *TemplateHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.TemplateContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	if c.Path == "" {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "path"}
	}
	e := exec.Engine
	src := e.resolveInputPath(e.Config.Template.Root, c.Path)
	fi, err := os.Stat(src)
	if err != nil {
		return runtime.Next{}, fmt.Errorf("template %s: %w", c.Path, err)
	}
	if !fi.IsDir() {
		return runtime.Next{}, fmt.Errorf("template %s is not a directory", src)
	}
	if e.Layout.CodeDir == "" {
		return runtime.Next{}, fmt.Errorf("no code directory configured")
	}
	n, err := copyTree(ctx, src, e.Layout.CodeDir, e.Config.Template.Exclude)
	if err != nil {
		return runtime.Next{}, fmt.Errorf("copy template %s: %w", src, err)
	}
	exec.Logger.Info("template copied", zap.String("src", src), zap.Int("files", n))
	return runtime.Successors(), nil
}

// copyTree copies the regular files under src into dst, overwriting, and
// skipping paths that match any exclude glob.
func copyTree(ctx context.Context, src, dst string, exclude []string) (int, error) {
	copied := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(filepath.ToSlash(rel), exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func excluded(rel string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// DocsHandler resolves and checks a documentation directory. Later @docs:
// references read from it.
type DocsHandler struct{}

func (h *DocsHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.DocsContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	if c.Path == "" {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "path"}
	}
	p := exec.Engine.resolveInputPath(exec.Engine.Config.Docs.Root, c.Path)
	if _, err := os.Stat(p); err != nil {
		return runtime.Next{}, fmt.Errorf("docs %s: %w", c.Path, err)
	}
	c.ResolvedPath = p
	return runtime.Successors(), nil
}

// ReadOnlyHandler only checks the path. READ_ONLY nodes are dependencies of
// the PROMPT that names them and the traversal never reaches them.
type ReadOnlyHandler struct{}

func (h *ReadOnlyHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	c, err := ir.As[*ir.ReadOnlyContents](node)
	if err != nil {
		return runtime.Next{}, err
	}
	if c.Path == "" {
		return runtime.Next{}, &MissingContentsError{NodeID: node.ID, Opcode: node.Op, Field: "path"}
	}
	if _, err := os.Stat(exec.Engine.resolveInputPath("", c.Path)); err != nil {
		return runtime.Next{}, fmt.Errorf("read-only folder %s: %w", c.Path, err)
	}
	return runtime.Successors(), nil
}

type ExitHandler struct{}

func (h *ExitHandler) Process(ctx context.Context, exec *Execution, node *ir.Node) (runtime.Next, error) {
	return runtime.Successors(), nil
}
