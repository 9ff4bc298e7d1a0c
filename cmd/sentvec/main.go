// Package main is the entry point for the sentvec CLI tool.
package main

import (
	"github.com/hargabyte/sentvec/internal/cmd"
)

func main() {
	cmd.Execute()
}
