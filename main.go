package main

import "github.com/kasuganosora/questledger/cmd"

func main() {
	cmd.Execute()
}
