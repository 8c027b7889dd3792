//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/steprunner/pkg/config"
)

func main() {
	if err := os.MkdirAll("schemas", 0755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	data, err := config.GenerateDocumentJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/config.json", data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/config.json")

	subStepData, err := config.GenerateSubStepJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating sub-step schema: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/sub-step.json", subStepData, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/sub-step.json")
}
