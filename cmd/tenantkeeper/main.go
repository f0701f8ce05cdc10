package main

import (
	"os"

	"github.com/solatis/tenantkeeper/cmd/tenantkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
