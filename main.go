package main

import "github.com/duespark/dunning/cmd"

func main() {
	cmd.Execute()
}
