package main

import "github.com/jsenecal/FastPKI/cmd/fastpki/cmd"

func main() {
	cmd.Execute()
}
