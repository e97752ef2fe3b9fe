// ghadapter runs a command that prints a JSON object (such as bin/compare)
// and appends each top-level field to $GITHUB_OUTPUT. The command's exit
// code is passed through after the outputs are written, so a mismatch still
// publishes its diff paths to later workflow steps.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

func main() {
	if len(os.Args) < 2 {
		os.Exit(1)
	}

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}

	cmd := exec.Command(os.Args[1], args...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	code := 0
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		code = exitErr.ExitCode()
	}

	var result map[string]interface{}
	if err := json.Unmarshal(output, &result); err != nil {
		os.Exit(code)
	}

	if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" {
		if err := writeOutputs(githubOutput, result); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	os.Exit(code)
}

func writeOutputs(path string, result map[string]interface{}) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	keys := maps.Keys(result)
	slices.Sort(keys)
	for _, key := range keys {
		if _, err := fmt.Fprintf(f, "%s=%v\n", key, result[key]); err != nil {
			return err
		}
	}
	return nil
}
