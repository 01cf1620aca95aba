package main

import "github.com/GriffinCanCode/scriptbox/internal/cli"

func main() {
	cli.Execute()
}
