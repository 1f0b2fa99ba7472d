package schema

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func getValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}

// Validation limits beyond what struct tags can express.
const (
	maxCommandArgLength = 4096
	maxEnvKeyLength     = 256
	maxEnvValueLength   = 4096
)

// ValidateExecutionRequest checks an ExecutionRequest for the structural and
// security constraints a request must satisfy before a sandbox is ever
// built for it. Failures here are plain errors without an error kind;
// the supervisor returns them as its error result, not as a response.
func ValidateExecutionRequest(req *ExecutionRequest) error {
	if err := getValidator().Struct(req); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}

	if err := validateCommand(req.Command); err != nil {
		return err
	}
	if err := validateEnvironment(req.Environment); err != nil {
		return err
	}
	return nil
}

func validateCommand(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("command cannot be empty")
	}

	for i, arg := range command {
		if arg == "" {
			return fmt.Errorf("command argument %d cannot be empty", i)
		}
		if len(arg) > maxCommandArgLength {
			return fmt.Errorf("command argument %d too long: %d characters (max %d)", i, len(arg), maxCommandArgLength)
		}
		if strings.ContainsRune(arg, 0) {
			return fmt.Errorf("command argument %d contains a null byte", i)
		}
	}

	executable := command[0]
	if strings.HasPrefix(executable, "/") && !isSafeExecutablePath(executable) {
		return fmt.Errorf("executable path %q is not allowed", executable)
	}

	return nil
}

// isSafeExecutablePath rejects traversal and non-clean absolute paths.
func isSafeExecutablePath(path string) bool {
	cleaned := filepath.Clean(path)
	return cleaned == path && !strings.Contains(cleaned, "..")
}

func validateEnvironment(env map[string]string) error {
	for key, value := range env {
		if key == "" {
			return fmt.Errorf("environment variable key cannot be empty")
		}
		if len(key) > maxEnvKeyLength {
			return fmt.Errorf("environment variable key %q too long (max %d characters)", key, maxEnvKeyLength)
		}
		if len(value) > maxEnvValueLength {
			return fmt.Errorf("environment variable %q value too long: %d characters (max %d)", key, len(value), maxEnvValueLength)
		}
		if strings.ContainsAny(key, "=\x00") {
			return fmt.Errorf("environment variable key %q contains invalid characters", key)
		}
		if strings.ContainsRune(value, 0) {
			return fmt.Errorf("environment variable %q value contains a null byte", key)
		}
		for _, r := range key {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return fmt.Errorf("environment variable key %q contains invalid characters (only alphanumeric and underscore allowed)", key)
			}
		}
	}
	return nil
}
