package main

import (
	"os"

	"github.com/checkinbot/checkinbot/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
