package main

import (
	"github.com/ColonelBlimp/pingfinder/cmd"
	"github.com/ColonelBlimp/pingfinder/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
