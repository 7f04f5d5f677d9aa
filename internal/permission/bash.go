package permission

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BashCommand is one simple command found in a shell script.
type BashCommand struct {
	Name       string   // command name, e.g. "rm", "git"
	Args       []string // arguments after the name
	Subcommand string   // first non-flag argument, e.g. "commit" in "git commit"
}

// BashScript is the parsed form of a command string.
type BashScript struct {
	Commands []BashCommand
	// Redirects holds file targets of <, >, >> and friends.
	Redirects []string
}

// ParseBashCommand parses a command string into its simple commands,
// including those nested in pipelines, chains and command substitutions.
func ParseBashCommand(command string) ([]BashCommand, error) {
	script, err := ParseBashScript(command)
	if err != nil {
		return nil, err
	}
	return script.Commands, nil
}

// ParseBashScript parses a command string into commands and redirect targets.
func ParseBashScript(command string) (*BashScript, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	script := &BashScript{}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if cmd := extractCommand(n); cmd != nil {
				script.Commands = append(script.Commands, *cmd)
			}
		case *syntax.Redirect:
			switch n.Op {
			case syntax.DplIn, syntax.DplOut, syntax.Hdoc, syntax.DashHdoc, syntax.WordHdoc:
			default:
				if n.Word != nil {
					if target := wordToString(n.Word); target != "" {
						script.Redirects = append(script.Redirects, target)
					}
				}
			}
		}
		return true
	})

	return script, nil
}

func extractCommand(call *syntax.CallExpr) *BashCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &BashCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		s := wordToString(arg)
		cmd.Args = append(cmd.Args, s)
		if cmd.Subcommand == "" && s != "" && !strings.HasPrefix(s, "-") {
			cmd.Subcommand = s
		}
	}
	return cmd
}

// wordToString flattens a word to its literal text. Parameter expansions are
// kept as $NAME; command substitutions contribute nothing since their inner
// commands are visited on their own.
func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	writeParts(&sb, word.Parts)
	return sb.String()
}

func writeParts(sb *strings.Builder, parts []syntax.WordPart) {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			writeParts(sb, p.Parts)
		case *syntax.ParamExp:
			if p.Param != nil {
				sb.WriteString("$" + p.Param.Value)
			}
		}
	}
}

// nonPathCommands never take filesystem paths as arguments.
var nonPathCommands = map[string]bool{
	"echo":   true,
	"printf": true,
	"true":   true,
	"false":  true,
	"sleep":  true,
}

// patternFirst commands take a pattern or script before their file arguments.
var patternFirst = map[string]bool{
	"grep":  true,
	"egrep": true,
	"fgrep": true,
	"rg":    true,
	"sed":   true,
	"awk":   true,
}

// ExtractPaths returns the arguments of cmd that may name files.
func ExtractPaths(cmd BashCommand) []string {
	if nonPathCommands[cmd.Name] {
		return nil
	}

	var paths []string
	skipPattern := patternFirst[cmd.Name]
	for _, arg := range cmd.Args {
		if arg == "" || strings.HasPrefix(arg, "-") {
			continue
		}
		if skipPattern {
			skipPattern = false
			continue
		}
		// chmod modes: numeric or symbolic like u+x
		if cmd.Name == "chmod" && isChmodMode(arg) {
			continue
		}
		paths = append(paths, arg)
	}
	return paths
}

func isChmodMode(arg string) bool {
	switch arg[0] {
	case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'u', 'g', 'o', 'a', '+', '=':
		return true
	}
	return false
}

// ScriptPaths returns every path-like operand of a parsed script.
func ScriptPaths(script *BashScript) []string {
	var paths []string
	for _, cmd := range script.Commands {
		paths = append(paths, ExtractPaths(cmd)...)
	}
	return append(paths, script.Redirects...)
}

// MatchCommand reports whether cmd matches an allowed-command pattern.
// Pattern format: "*", "git", "git *", "go test *".
func MatchCommand(pattern string, cmd BashCommand) bool {
	parts := strings.Fields(pattern)
	if len(parts) == 0 {
		return false
	}
	if len(parts) == 1 && parts[0] == "*" {
		return true
	}
	if parts[0] != "*" && parts[0] != cmd.Name {
		return false
	}

	// Bare name: the command without arguments.
	if len(parts) == 1 {
		return len(cmd.Args) == 0
	}

	if parts[len(parts)-1] == "*" {
		for i := 1; i < len(parts)-1; i++ {
			if i-1 >= len(cmd.Args) {
				return false
			}
			if parts[i] != "*" && parts[i] != cmd.Args[i-1] {
				return false
			}
		}
		return true
	}

	if len(parts)-1 != len(cmd.Args) {
		return false
	}
	for i := 1; i < len(parts); i++ {
		if parts[i] != cmd.Args[i-1] {
			return false
		}
	}
	return true
}
