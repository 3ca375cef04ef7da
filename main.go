package main

import (
	"fmt"
	"os"

	"github.com/objstore/housekeeper/cmd"
	cmdgc "github.com/objstore/housekeeper/cmd/gc"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cmdgc.ExitCode(err))
}
