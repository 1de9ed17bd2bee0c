package main

import "github.com/encodeous/spark/cmd"

func main() {
	cmd.Execute()
}
