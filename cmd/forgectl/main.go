// forgectl - локальный запуск конвейера генерации сцен и утилиты для фрагментов и правил.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"scene-forge/internal/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errDirty - проверка нашла проблемы. Печатать нечего, отчет уже выведен.
var errDirty = errors.New("fragment has issues")

type rootOptions struct {
	configPath string
	logLevel   string
	policyPath string

	log zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDirty) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "forgectl",
		Short:         "Generate, validate and sanitize narrated manim scene code",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logger.NewConsole(opts.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.log = log
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "forge.yaml", "Path to YAML config (optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.policyPath, "policy", "", "Policy YAML file (built-in rules if empty)")

	root.AddCommand(
		newGenerateCmd(opts),
		newValidateCmd(opts),
		newSanitizeCmd(opts),
		newPolicyCmd(opts),
	)
	return root
}

// zapLogger - логгер для внутренних пакетов. Они пишут через zap, CLI - через zerolog.
func (o *rootOptions) zapLogger() *zap.Logger {
	level := "warn"
	if strings.EqualFold(o.logLevel, "debug") {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Encoding: "console", OutputPath: "stderr"}, "")
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// readInput читает файл или stdin для "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать '%s': %w", path, err)
	}
	return data, nil
}
