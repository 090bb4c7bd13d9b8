// Package register writes an MCP client configuration entry that launches
// this binary.
package register

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/natefinch/atomic"
)

// ErrUsage is returned when the arguments do not name a valid scope.
var ErrUsage = errors.New("usage: register project [directory] [-- server args] | register user [-- server args]")

type mcpServerEntry struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Run executes the register subcommand.
// serverName is the MCP server name (e.g. "vecindex").
// args are the words after "register".
func Run(serverName string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}

	scope := args[0]
	if scope != "project" && scope != "user" {
		return fmt.Errorf("unknown scope %q: %w", scope, ErrUsage)
	}

	var directory string
	var serverArgs []string

	if scope == "project" {
		directory, serverArgs = parseProjectArgs(args[1:])
	} else {
		serverArgs = parseUserArgs(args[1:])
	}

	binaryPath, err := detectBinaryPath()
	if err != nil {
		return fmt.Errorf("detecting binary path: %w", err)
	}

	configPath, err := resolveConfigPath(scope, directory)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}

	entry := buildEntry(binaryPath, serverArgs)

	if err := writeConfig(configPath, serverName, entry); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintf(out, "Registered %q in %s\n", serverName, configPath)
	return nil
}

// DeriveServerName extracts a server name from a binary path by stripping .exe and -mcp suffixes.
func DeriveServerName(binaryPath string) string {
	name := filepath.Base(binaryPath)
	name = strings.TrimSuffix(name, ".exe")
	name = strings.TrimSuffix(name, "-mcp")
	return name
}

func parseProjectArgs(args []string) (directory string, serverArgs []string) {
	directory = "."
	for i, arg := range args {
		if arg == "--" {
			serverArgs = args[i+1:]
			return directory, serverArgs
		}
		// First non-separator arg is the directory
		if i == 0 {
			directory = arg
		}
	}
	return directory, nil
}

func parseUserArgs(args []string) (serverArgs []string) {
	for i, arg := range args {
		if arg == "--" {
			return args[i+1:]
		}
	}
	return nil
}

func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("getting executable path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", exe, err)
	}
	return resolved, nil
}

func resolveConfigPath(scope string, directory string) (string, error) {
	if scope == "project" {
		absDir, err := filepath.Abs(directory)
		if err != nil {
			return "", fmt.Errorf("resolving directory %s: %w", directory, err)
		}
		return filepath.Join(absDir, ".mcp.json"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude.json"), nil
}

func buildEntry(binaryPath string, serverArgs []string) mcpServerEntry {
	if runtime.GOOS == "windows" {
		args := []string{"/C", binaryPath}
		args = append(args, serverArgs...)
		return mcpServerEntry{
			Command: "cmd",
			Args:    args,
		}
	}
	return mcpServerEntry{
		Command: binaryPath,
		Args:    serverArgs,
	}
}

// writeConfig adds or replaces the server entry, keeping every other key of
// an existing config file.
func writeConfig(configPath string, serverName string, entry mcpServerEntry) error {
	config := map[string]any{
		"mcpServers": map[string]any{},
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing existing config %s: %w", configPath, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}

	servers, ok := config["mcpServers"]
	if !ok {
		servers = map[string]any{}
		config["mcpServers"] = servers
	}

	serversMap, ok := servers.(map[string]any)
	if !ok {
		return fmt.Errorf("mcpServers in %s is not an object", configPath)
	}

	serversMap[serverName] = entry

	output, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	output = append(output, '\n')

	if err := atomic.WriteFile(configPath, bytes.NewReader(output)); err != nil {
		return fmt.Errorf("replacing %s: %w", configPath, err)
	}
	return nil
}
