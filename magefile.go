//go:build mage
// +build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/sh"
)

// Default target when running mage without arguments.
var Default = Build

// Build builds the server binary.
func Build() error {
	fmt.Println("Building server...")
	return sh.Run("go", "build", "-o", "bin/server", "./cmd/server")
}

// Test runs all tests with race detection.
func Test() error {
	fmt.Println("Running tests...")
	return sh.Run("go", "test", "-race", "./...")
}

// Vet runs go vet across the module.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Run starts the server locally.
func Run() error {
	return sh.Run("go", "run", "./cmd/server")
}

// Clean removes build artifacts.
func Clean() error {
	return sh.Rm("bin")
}
