package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ReadSecret читает секрет из файла в каталоге Docker Secrets.
func ReadSecret(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// readSecretOrEnv сначала ищет файл секрета, затем переменную окружения (локальный запуск с .env).
func readSecretOrEnv(dir, name, envKey string, required bool) (string, error) {
	secret, err := ReadSecret(dir, name)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	if required {
		return "", fmt.Errorf("секрет '%s' не найден ни в %s, ни в %s", name, dir, envKey)
	}
	return "", nil
}
