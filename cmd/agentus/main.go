// Command agentus is the reference driver for the language: it reads
// a JSON-encoded ast.Program (the interchange format an external
// lexer/parser would produce), compiles it to a bytecode.Module, and
// either prints its disassembly or runs it to completion against a
// selectable host. Grounded on wudi-hey's cmd/hey/main.go, which
// wires the same parse -> compile -> execute pipeline through
// github.com/urfave/cli/v3 subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"agentus/ast"
	"agentus/bytecode"
	"agentus/codegen"
	"agentus/host"
	"agentus/vm"
)

func main() {
	app := &cli.Command{
		Name:  "agentus",
		Usage: "compile and run Agentus bytecode modules",
		Commands: []*cli.Command{
			compileCommand,
			execCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var compileCommand = &cli.Command{
	Name:      "compile",
	Usage:     "compile a JSON-encoded AST and print its disassembly",
	ArgsUsage: "<ast.json>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		mod, err := compileFromFile(cmd.Args().First())
		if err != nil {
			return err
		}
		fmt.Print(mod.Disassemble())
		return nil
	},
}

var execCommand = &cli.Command{
	Name:      "exec",
	Usage:     "compile a JSON-encoded AST and run it to completion",
	ArgsUsage: "<ast.json>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Value: "echo",
			Usage: "host implementation to dispatch exec()/tool() against: echo, noop",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "run one instruction at a time under the interactive debugger",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		mod, err := compileFromFile(cmd.Args().First())
		if err != nil {
			return err
		}

		h, err := selectHost(cmd.String("host"))
		if err != nil {
			return err
		}

		machine := vm.New(mod, h)

		var output []string
		if cmd.Bool("debug") {
			output, err = machine.RunProgramDebugMode()
		} else {
			output, err = machine.RunProgram()
		}
		for _, line := range output {
			fmt.Println(line)
		}
		if err != nil {
			return err
		}
		return nil
	},
}

func selectHost(name string) (host.Host, error) {
	switch name {
	case "echo":
		return host.NewEchoHost(), nil
	case "noop":
		return host.NewNoopHost(), nil
	default:
		return nil, fmt.Errorf("unknown host %q: want echo or noop", name)
	}
}

func compileFromFile(path string) (*bytecode.Module, error) {
	if path == "" {
		return nil, fmt.Errorf("usage: agentus <compile|exec> <ast.json>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var prog ast.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	mod, err := codegen.Generate(&prog)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", path, err)
	}
	return mod, nil
}
