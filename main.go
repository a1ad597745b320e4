/*
Copyright © 2023 sanix-darker <s4nixd@gmail.com>

*/
package main

import (
	"github.com/sanix-darker/mpr/cmd"
	_ "github.com/sanix-darker/mpr/internal/provider/init"
	_ "github.com/sanix-darker/mpr/internal/vcs/init"
)

func main() {
	cmd.Execute()
}
