package main

import (
	"os"

	"github.com/jrepp/sdkruntime/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
