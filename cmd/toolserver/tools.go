package main

import (
	"context"
	"errors"
	"fmt"
	"go/scanner"
	"go/token"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"
	"github.com/traefik/yaegi/interp"

	"github.com/Bigsy/toolwire/internal/jsonx"
)

var secretWords = []string{"apple", "banana", "cherry"}

// EchoArgs are the arguments of the echo tool.
type EchoArgs struct {
	Text   string `json:"text" jsonschema:"description=Text to return"`
	Repeat int    `json:"repeat,omitempty" jsonschema:"description=How many times to repeat the text,minimum=1,maximum=10"`
}

// newServer builds the provider. pick chooses an index in [0,n) for
// get_secret_word.
func newServer(logger *slog.Logger, pick func(n int) int) *server.MCPServer {
	srv := server.NewMCPServer("toolserver", version, server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("calculate",
		mcp.WithDescription("Evaluates a mathematical expression and returns the result as JSON."),
		mcp.WithString("expression", mcp.Required(), mcp.Description("The mathematical expression to evaluate, e.g. 9+(6*7)/5-1")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		expr := cast.ToString(req.GetArguments()["expression"])
		logger.Debug("calculate", "expression", expr)
		return mcp.NewToolResultText(calculate(expr)), nil
	})

	srv.AddTool(mcp.NewTool("get_secret_word",
		mcp.WithDescription("Provides a random secret word."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger.Info("[debug-server] get_secret_word()")
		return mcp.NewToolResultText(secretWords[pick(len(secretWords))]), nil
	})

	srv.AddTool(mcp.NewToolWithRawSchema("echo",
		"Returns its text argument, optionally repeated.",
		schemaFor[EchoArgs](),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		text := cast.ToString(args["text"])
		repeat, err := cast.ToIntE(args["repeat"])
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("repeat: %v", err)), nil
		}
		if repeat < 1 {
			repeat = 1
		}
		return mcp.NewToolResultText(strings.Repeat(text, repeat)), nil
	})

	return srv
}

func schemaFor[T any]() []byte {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(new(T))
	s.Version = ""
	data, err := jsonx.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("schema for %T: %v", *new(T), err))
	}
	return data
}

// calculate evaluates an arithmetic expression and returns {"result": n} or
// {"error": msg} as JSON text.
func calculate(expr string) string {
	out := map[string]any{}
	if v, err := evaluate(expr); err != nil {
		out["error"] = err.Error()
	} else {
		out["result"] = v
	}
	data, _ := jsonx.Marshal(out)
	return string(data)
}

// evaluate accepts numbers, parentheses and + - * / only. Integer literals
// are promoted to floats so 42/5 is 8.4, not 8.
func evaluate(expr string) (float64, error) {
	src := []byte(expr)
	fset := token.NewFileSet()
	file := fset.AddFile("expr", fset.Base(), len(src))

	var s scanner.Scanner
	var scanErr error
	s.Init(file, src, func(_ token.Position, msg string) { scanErr = errors.New(msg) }, 0)

	var b strings.Builder
	for {
		_, tok, lit := s.Scan()
		if scanErr != nil {
			return 0, scanErr
		}
		switch tok {
		case token.EOF:
			if b.Len() == 0 {
				return 0, errors.New("empty expression")
			}
			return eval(b.String())
		case token.SEMICOLON:
			// automatic semicolon at end of line
			if lit != "\n" {
				return 0, fmt.Errorf("unexpected %q", lit)
			}
		case token.INT:
			b.WriteString(lit)
			b.WriteString(".0")
		case token.FLOAT:
			b.WriteString(lit)
		case token.ADD, token.SUB, token.MUL, token.QUO, token.LPAREN, token.RPAREN:
			b.WriteString(tok.String())
		default:
			text := lit
			if text == "" {
				text = tok.String()
			}
			return 0, fmt.Errorf("unsupported token %q", text)
		}
	}
}

func eval(expr string) (float64, error) {
	i := interp.New(interp.Options{})
	v, err := i.Eval("float64(" + expr + ")")
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v.Interface())
}
