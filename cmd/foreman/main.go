package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/foreman/internal/model"
	"github.com/msageha/foreman/internal/setup"
)

const version = "0.3.0"

// command is the closed set of top-level commands.
type command string

const (
	cmdInit     command = "init"
	cmdTask     command = "task"
	cmdDocs     command = "docs"
	cmdSync     command = "sync"
	cmdWatch    command = "watch"
	cmdHook     command = "hook"
	cmdSettings command = "settings"
	cmdVersion  command = "version"
	cmdHelp     command = "help"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 2
	}

	switch command(args[0]) {
	case cmdInit:
		return runInit(args[1:])
	case cmdTask:
		return runBatch(model.KindTask, args[1:])
	case cmdDocs:
		return runBatch(model.KindDocs, args[1:])
	case cmdSync:
		return runBatch(model.KindSync, args[1:])
	case cmdWatch:
		return runWatch(args[1:])
	case cmdHook:
		return runHook(args[1:])
	case cmdSettings:
		return runSettings(args[1:])
	case cmdVersion:
		fmt.Printf("foreman %s\n", version)
		return 0
	case cmdHelp, "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func runInit(args []string) int {
	var dir, name string
	for i := 0; i < len(args); i++ {
		switch a := args[i]; a {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "usage: foreman init [--name <project>] [dir]")
				return 2
			}
			i++
			name = args[i]
		default:
			if dir != "" {
				fmt.Fprintf(os.Stderr, "unexpected argument: %s\nusage: foreman init [--name <project>] [dir]\n", a)
				return 2
			}
			dir = a
		}
	}
	if dir == "" {
		dir = "."
	}

	if err := setup.Run(dir, setup.Options{ProjectName: name, HookCommand: selfPath()}); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		return 1
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized %s/ in %s\n", setup.Dir, absDir)
	return 0
}

// selfPath is the command the agent's hooks should call.
func selfPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "foreman"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		return resolved
	}
	return exe
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `foreman %s - drive a coding agent through worker/moderator loops

Usage: foreman <command> [options]

Workflows:
  task [--parallel N] [file...]     Run task files (default: every file in task.dir)
  docs [--parallel N] [file...]     Maintain documentation files
  sync [--parallel N] [module...]   Bring modules in line with their manifests
  watch                             Run new or changed task files as they appear

Hooks:
  hook <bash|quality|completion>    Decide one hook request (stdin -> stdout)
  settings [--write]                Print or write the agent hook settings

Setup:
  init [--name <project>] [dir]     Create .foreman/ with default config
  version                           Show version
  help                              Show this help

Exit status is 0 when every unit completed or needs feedback, 1 when any
failed or timed out, 2 on usage errors.
`, version)
}
