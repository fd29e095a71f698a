package main

import (
	"os"

	"github.com/stagehand-sh/stagehand/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
