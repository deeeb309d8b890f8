package main

import (
	"os"

	"github.com/joseph-ayodele/audit-reports/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
