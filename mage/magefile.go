//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

const (
	BINARY_NAME = "../bin/swing-mates-server"
	MAIN_PATH   = "../backend/cmd/app.go"
)

// All runs vet, tests and build in order.
func All() {
	mg.SerialDeps(Vet, Test, Build)
}

func Build() error {
	fmt.Println("Building server binary...")
	return runCmd("go", "build", "-o", BINARY_NAME, MAIN_PATH)
}

func Test() error {
	fmt.Println("Running tests...")
	return runCmd("go", "test", "../...")
}

func Vet() error {
	fmt.Println("Running go vet...")
	return runCmd("go", "vet", "../...")
}

func Clean() {
	fmt.Println("Cleaning up...")
	os.Remove(BINARY_NAME)
}

func runCmd(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
