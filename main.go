package main

import "maxpop/cmd"

func main() {
	cmd.Execute()
}
