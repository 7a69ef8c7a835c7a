// Command deepthinks-setup interactively produces a deepthinks.env file with
// the DEEPTHINKS_* variables the server reads, and can verify an existing one.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/deepthinks/deepthinks/internal/config"
)

const defaultEnvPath = "./deepthinks.env"

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--verify" {
			runVerify(defaultEnvPath)
			return
		}
	}

	printBanner()

	fmt.Println("Welcome to Deepthinks setup!")
	fmt.Println("This wizard writes a deepthinks.env file for the API server.")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	vars := collectSettings(reader)

	if err := writeEnvFile(defaultEnvPath, vars); err != nil {
		log.Fatalf("Failed to write %s: %v", defaultEnvPath, err)
	}

	fmt.Println()
	fmt.Printf("Wrote %s\n", defaultEnvPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  set -a; . %s; set +a\n", defaultEnvPath)
	fmt.Println("  deepthinks-server")
}

func printBanner() {
	fmt.Print(`
 ____                  _   _     _       _
|  _ \  ___  ___ _ __ | |_| |__ (_)_ __ | | _____
| | | |/ _ \/ _ \ '_ \| __| '_ \| | '_ \| |/ / __|
| |_| |  __/  __/ |_) | |_| | | | | | | |   <\__ \
|____/ \___|\___| .__/ \__|_| |_|_|_| |_|_|\_\___/
                |_|
Conversational AI with adaptive memory
`)
}

// envVar is one line of the generated file. A slice keeps the file in a
// stable, readable order.
type envVar struct {
	Key   string
	Value string
}

func collectSettings(reader *bufio.Reader) []envVar {
	var vars []envVar

	apiKey := promptRequired(reader, "LLM API key (Together or any OpenAI-compatible provider)")
	vars = append(vars, envVar{"DEEPTHINKS_LLM_API_KEY", apiKey})

	baseURL := promptString(reader, "LLM base URL", "https://api.together.xyz/v1")
	vars = append(vars, envVar{"DEEPTHINKS_LLM_BASE_URL", baseURL})

	model := promptString(reader, "Chat model", "meta-llama/Llama-3.3-70B-Instruct-Turbo")
	vars = append(vars, envVar{"DEEPTHINKS_LLM_MODEL", model})

	engine := promptChoice(reader, "Storage engine", []string{
		"SQLite (recommended -- single file, zero dependencies)",
		"PostgreSQL",
	})
	if engine == 2 {
		vars = append(vars, envVar{"DEEPTHINKS_STORAGE_ENGINE", "postgres"})
		url := promptRequired(reader, "PostgreSQL connection URL")
		vars = append(vars, envVar{"DEEPTHINKS_POSTGRES_URL", url})
	} else {
		vars = append(vars, envVar{"DEEPTHINKS_STORAGE_ENGINE", "sqlite"})
		path := promptString(reader, "SQLite database path", "./deepthinks.db")
		vars = append(vars, envVar{"DEEPTHINKS_SQLITE_PATH", path})
	}

	mode := promptChoice(reader, "Security mode", []string{
		"Development (no bearer token, single local user)",
		"Production (bearer token required)",
	})
	if mode == 2 {
		vars = append(vars, envVar{"DEEPTHINKS_SECURITY_MODE", "production"})
		token := promptString(reader, "API token (empty to generate one)", "")
		if token == "" {
			token = generateToken()
			fmt.Printf("  Generated token: %s\n", token)
		}
		vars = append(vars, envVar{"DEEPTHINKS_API_TOKEN", token})
	} else {
		vars = append(vars, envVar{"DEEPTHINKS_SECURITY_MODE", "development"})
		user := promptString(reader, "Your user name", "default")
		vars = append(vars, envVar{"DEEPTHINKS_USER", user})
	}

	if promptYesNo(reader, "Allow anonymous trial requests?", true) {
		vars = append(vars, envVar{"DEEPTHINKS_ANON_ENABLED", "true"})
	} else {
		vars = append(vars, envVar{"DEEPTHINKS_ANON_ENABLED", "false"})
	}

	return vars
}

// runVerify loads the env file into the process environment and runs it
// through the server's own configuration validation.
func runVerify(path string) {
	fmt.Println("Deepthinks setup verification")
	fmt.Println("=============================")
	fmt.Println()

	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("Env file:     ✗ %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Env file:     ✓ %s\n", path)

	for key, value := range parseEnvFile(string(content)) {
		os.Setenv(key, value)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config:       ✗ %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config:       ✓ valid\n")
	fmt.Printf("Storage:      ✓ %s\n", cfg.Storage.StorageEngine)
	fmt.Printf("LLM endpoint: ✓ %s\n", cfg.LLM.BaseURL)

	if cfg.LLM.APIKey == "" {
		fmt.Println("API key:      ✗ empty (requests to the provider will fail)")
		os.Exit(1)
	}
	fmt.Println("API key:      ✓ set")

	if cfg.Security.SecurityMode == "production" && cfg.Security.APIToken == "" {
		fmt.Println("Security:     ✗ production mode with no API token")
		os.Exit(1)
	}
	fmt.Printf("Security:     ✓ %s mode\n", cfg.Security.SecurityMode)
}

func promptString(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func promptRequired(reader *bufio.Reader, label string) string {
	for {
		if value := promptString(reader, label, ""); value != "" {
			return value
		}
		fmt.Println("  A value is required.")
	}
}

func promptChoice(reader *bufio.Reader, label string, options []string) int {
	fmt.Printf("%s:\n", label)
	for i, opt := range options {
		fmt.Printf("  %d) %s\n", i+1, opt)
	}
	for {
		answer := promptString(reader, fmt.Sprintf("Choose 1-%d", len(options)), "1")
		for i := range options {
			if answer == fmt.Sprintf("%d", i+1) {
				return i + 1
			}
		}
		fmt.Println("  Invalid choice.")
	}
}

func promptYesNo(reader *bufio.Reader, label string, def bool) bool {
	hint := "Y/n"
	if !def {
		hint = "y/N"
	}
	answer := strings.ToLower(promptString(reader, fmt.Sprintf("%s [%s]", label, hint), ""))
	switch answer {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return def
	}
}

// generateToken returns 32 hex characters from a CSPRNG.
func generateToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	return hex.EncodeToString(buf)
}

func renderEnv(vars []envVar) string {
	var b strings.Builder
	b.WriteString("# Deepthinks configuration, generated by deepthinks-setup.\n")
	b.WriteString("# Load with: set -a; . ./deepthinks.env; set +a\n")
	for _, v := range vars {
		fmt.Fprintf(&b, "%s=%s\n", v.Key, v.Value)
	}
	return b.String()
}

// writeEnvFile writes the file with owner-only permissions; it holds the
// provider API key.
func writeEnvFile(path string, vars []envVar) error {
	return os.WriteFile(path, []byte(renderEnv(vars)), 0o600)
}

func parseEnvFile(content string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return vars
}
