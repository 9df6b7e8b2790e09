package main

import (
	"fmt"
	"os"

	"github.com/maxkimambo/dagrun/cmd"
	engerrors "github.com/maxkimambo/dagrun/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, engerrors.FormatForCLI(err))
		os.Exit(1)
	}
}
