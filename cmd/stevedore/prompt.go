package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// promptForMissing asks the operator for required parameters that no flag,
// environment variable, or config file supplied. Non-interactive runs skip
// prompting and let validation reject the empty values instead.
func promptForMissing(dep *DeployConfig) {
	if !isInteractive() {
		return
	}

	reader := bufio.NewReader(os.Stdin)

	if dep.RepoURL == "" {
		fmt.Println("Git repository to deploy")
		fmt.Println("Example: https://github.com/acme/app.git")
		dep.RepoURL = readValue(reader, "Repository URL", "")
		fmt.Println()
	}

	if dep.SSHUser == "" {
		dep.SSHUser = readValue(reader, "SSH user", "")
	}

	if dep.SSHHost == "" {
		dep.SSHHost = readValue(reader, "Target host", "")
	}
}

// readValue prompts for input with an optional default.
func readValue(reader *bufio.Reader, prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return defaultValue
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

// isInteractive checks if stdin is a terminal.
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
