package main

import "github.com/kebairia/phoenix/cmd"

func main() {
	cmd.Execute()
}
