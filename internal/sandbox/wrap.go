package sandbox

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

const (
	entryName = "main"
	entryFile = "main.js"

	// Headers stay on the first line so stack traces keep caller line numbers.
	expressionHeader = "async function main(input) { return ("
	expressionFooter = "\n); }"
	bodyHeader       = "async function main(input) {"
	bodyFooter       = "\n}"
)

var errEscapedEntry = errors.New("SyntaxError: code must stay inside the entry function")

// compileEntry wraps code as the body of the async entry function. Code that
// parses as a single expression becomes the function's return value.
func compileEntry(code string) (*goja.Program, error) {
	if prg, err := parseEntry(expressionHeader+code+expressionFooter, true); err == nil {
		return goja.CompileAST(prg, false)
	}

	prg, err := parseEntry(bodyHeader+code+bodyFooter, false)
	if err != nil {
		return nil, err
	}
	return goja.CompileAST(prg, false)
}

// parseEntry parses a wrapped source and checks that it still consists of
// exactly the entry declaration, so code cannot close the wrapper and run at
// top level.
func parseEntry(src string, expression bool) (*ast.Program, error) {
	prg, err := parser.ParseFile(nil, entryFile, src, 0)
	if err != nil {
		return nil, fmt.Errorf("SyntaxError: %v", err)
	}

	if len(prg.Body) != 1 {
		return nil, errEscapedEntry
	}
	decl, ok := prg.Body[0].(*ast.FunctionDeclaration)
	if !ok || decl.Function == nil || decl.Function.Name == nil || decl.Function.Name.Name != entryName {
		return nil, errEscapedEntry
	}

	if expression {
		body := decl.Function.Body
		if body == nil || len(body.List) != 1 {
			return nil, errEscapedEntry
		}
		if _, ok := body.List[0].(*ast.ReturnStatement); !ok {
			return nil, errEscapedEntry
		}
	}
	return prg, nil
}
