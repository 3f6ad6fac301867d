package main

import (
	"fmt"

	"github.com/cytoscape/jupyter-bridge/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
