// Package main is the insignia service binary.
package main

import "github.com/JakeFAU/marketplace-insignia/cmd"

func main() {
	cmd.Execute()
}
