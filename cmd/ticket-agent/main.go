package main

import (
	"fmt"
	"os"

	"github.com/Rzx-x/Ticket-Agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
