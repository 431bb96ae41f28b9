package main

import "munind.sh/cmd/munind/cmd"

func main() {
	cmd.Execute()
}
