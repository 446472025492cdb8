package main

import (
	"github.com/sagan/genmeta/cmd"
	_ "github.com/sagan/genmeta/cmd/all"
)

func main() {
	cmd.Execute()
}
