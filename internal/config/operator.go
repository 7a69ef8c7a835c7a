package config

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

var (
	operatorOnce sync.Once
	operatorName string
)

// detectOperator returns the user id development-mode requests run as.
// Checks DEEPTHINKS_USER, then git config user.name, then "default". The git
// lookup is cached after the first call.
func detectOperator() string {
	operatorOnce.Do(func() {
		operatorName = detectOperatorUncached()
	})
	return operatorName
}

// detectOperatorUncached performs detection without caching. Used for testing.
func detectOperatorUncached() string {
	if name := os.Getenv("DEEPTHINKS_USER"); name != "" {
		return name
	}
	if name := gitUserName(); name != "" {
		return name
	}
	return "default"
}

// gitUserName runs `git config --get user.name` and returns the trimmed
// result, or empty string on any error.
func gitUserName() string {
	out, err := exec.Command("git", "config", "--get", "user.name").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
