package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/stagehand-sh/stagehand/internal/output"
)

// interactive reports whether stdin is a terminal an operator can answer
// prompts on.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question on stderr and reads the answer from stdin.
// Only "y" and "yes" count as consent.
func confirm(w *output.Writer, format string, args ...any) bool {
	fmt.Fprintf(w.Stderr, format+" [y/N]: ", args...)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
