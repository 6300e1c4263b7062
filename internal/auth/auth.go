// Package auth stores the optional bearer token for the processing service.
package auth

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	serviceName  = "restora"
	tokenAccount = "service-token"
	// EnvVar is consulted only when the caller opts in.
	EnvVar = "RESTORA_API_TOKEN"
)

const (
	SourceKeychain = "Keychain"
	SourceEnv      = "Environment Variable"
	SourcePrompt   = "Terminal Prompt"
)

// GetToken returns the stored token and where it came from. If allowEnv is
// false, the environment is ignored. An empty token means none is configured.
func GetToken(allowEnv bool) (string, string) {
	token, err := keyring.Get(serviceName, tokenAccount)
	if err == nil && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token), SourceKeychain
	}
	if allowEnv {
		if token, ok := GetEnvToken(); ok {
			return token, SourceEnv
		}
	}
	return "", ""
}

// SaveToken saves the token to the OS keychain.
func SaveToken(token string) error {
	return keyring.Set(serviceName, tokenAccount, strings.TrimSpace(token))
}

// DeleteToken removes the token from the OS keychain.
func DeleteToken() error {
	return keyring.Delete(serviceName, tokenAccount)
}

// HasToken reports whether the keychain holds a token.
func HasToken() bool {
	token, err := keyring.Get(serviceName, tokenAccount)
	return err == nil && token != ""
}

// GetEnvToken reads the token from the environment only.
func GetEnvToken() (string, bool) {
	token := strings.TrimSpace(os.Getenv(EnvVar))
	if token == "" {
		return "", false
	}
	return token, true
}

// PromptForToken reads a token from the terminal without echo.
func PromptForToken(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
