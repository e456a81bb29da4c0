package registry

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"runtime"
	"strings"

	"github.com/flowlinehq/flowline/pkg/api"
)

// SourceScanAssociator associates tasks with a flow by lexically scanning
// the flow function's source text for literal call sites of the form
// "<task function identifier>(". The flow is never executed to discover its
// task graph, which is what allows registration before any task runs.
//
// The scan is a deliberate approximation: a task called through a renamed
// variable or shadowed by a same-named local is missed or misattributed.
// Flows that cannot live with that use FlowOptions.Tasks instead.
type SourceScanAssociator struct{}

var _ Associator = SourceScanAssociator{}

// Associate returns the declared tasks whose call form appears in the flow
// body, in task declaration order.
func (SourceScanAssociator) Associate(flow *api.FlowDefinition, tasks []*api.TaskDefinition) ([]*api.TaskDefinition, error) {
	if flow.Fn == nil {
		return nil, fmt.Errorf("flow %q has no function", flow.Name)
	}

	source, err := funcSource(flow.Fn)
	if err != nil {
		return nil, fmt.Errorf("scan flow source (declare FlowOptions.Tasks explicitly if sources are unavailable): %w", err)
	}

	var matched []*api.TaskDefinition
	for _, task := range tasks {
		if strings.Contains(source, task.FuncName+"(") {
			matched = append(matched, task)
		}
	}
	return matched, nil
}

// funcIdentifier returns the bare identifier of a function value:
// "github.com/acme/pipelines.ExtractSales" becomes "ExtractSales".
// Method values lose their "-fm" suffix.
func funcIdentifier(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return ""
	}
	name := f.Name()
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// funcSource returns the source text of the function fn points at, located
// through the runtime and extracted with go/parser. It fails when the file
// recorded in the binary's debug info is not readable, which is the
// deployed-binary case the explicit task list exists for.
func funcSource(fn any) (string, error) {
	pc := reflect.ValueOf(fn).Pointer()
	f := runtime.FuncForPC(pc)
	if f == nil {
		return "", fmt.Errorf("no runtime information for function")
	}

	file, line := f.FileLine(f.Entry())
	src, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read source of %s: %w", f.Name(), err)
	}

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, file, src, 0)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", file, err)
	}

	// The runtime points somewhere inside the function; pick the innermost
	// function declaration or literal whose span covers that line.
	var best ast.Node
	ast.Inspect(parsed, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
			start := fset.Position(n.Pos()).Line
			end := fset.Position(n.End()).Line
			if start <= line && line <= end {
				if best == nil || n.Pos() >= best.Pos() && n.End() <= best.End() {
					best = n
				}
			}
		}
		return true
	})
	if best == nil {
		return "", fmt.Errorf("function body not found in %s:%d", file, line)
	}

	startOff := fset.Position(best.Pos()).Offset
	endOff := fset.Position(best.End()).Offset
	return string(src[startOff:endOff]), nil
}
