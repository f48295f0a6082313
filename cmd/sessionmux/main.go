package main

import "sessionmux-core/internal/app/cmd"

func main() {
	cmd.Execute()
}
