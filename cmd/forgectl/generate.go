package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"scene-forge/internal/model"
	"scene-forge/internal/pipeline"
	"scene-forge/internal/policy"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		videoPath string
		outDir    string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize, validate and render every scene of a video",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadCLIConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.policyPath != "" {
				cfg.PolicyPath = opts.policyPath
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			video, err := readVideo(videoPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := opts.runVideo(ctx, cfg, video)
			if err != nil {
				return err
			}
			if err := writeArtifacts(outDir, report); err != nil {
				return err
			}
			printSummary(cmd, report)

			if report.Succeeded() == 0 {
				return fmt.Errorf("ни одна сцена видео %d не сгенерирована", video.Number)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&videoPath, "video", "video.yaml", "Video description YAML")
	cmd.Flags().StringVar(&outDir, "out", "out", "Directory for generated programs")
	return cmd
}

func (o *rootOptions) runVideo(ctx context.Context, cfg *cliConfig, video model.Video) (pipeline.BatchReport, error) {
	zlog := o.zapLogger()
	defer func() { _ = zlog.Sync() }()

	policies, err := policy.Open(ctx, cfg.PolicyPath, false, zlog)
	if err != nil {
		return pipeline.BatchReport{}, err
	}

	engine, err := pipeline.NewEngine(ctx, cfg.engineConfig(), policies, nil, zlog)
	if err != nil {
		return pipeline.BatchReport{}, err
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			o.log.Warn().Err(cerr).Msg("Failed to close engine")
		}
	}()

	o.log.Info().
		Int("video", video.Number).
		Int("scenes", len(video.Scenes)).
		Str("policy", policies.Current().Version()).
		Str("executor", cfg.Executor.Type).
		Msg("Generating video")

	return engine.Driver.Run(ctx, video)
}

func readVideo(path string) (model.Video, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Video{}, fmt.Errorf("не удалось прочитать '%s': %w", path, err)
	}
	var video model.Video
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&video); err != nil {
		return model.Video{}, fmt.Errorf("ошибка разбора видео '%s': %w", path, err)
	}
	if err := video.Validate(); err != nil {
		return model.Video{}, err
	}
	return video, nil
}

// writeArtifacts пишет полную программу и фрагменты успешных сцен.
func writeArtifacts(dir string, report pipeline.BatchReport) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("не удалось создать каталог '%s': %w", dir, err)
	}
	if report.Program != nil {
		if err := os.WriteFile(filepath.Join(dir, report.Program.FileName), []byte(report.Program.Source), 0o644); err != nil {
			return fmt.Errorf("не удалось записать программу: %w", err)
		}
	}
	for _, s := range report.Scenes {
		if s.Err != nil || s.Fragment.Text == "" {
			continue
		}
		name := fmt.Sprintf("%s.fragment.py", report.Video.SceneClassName(s.Index))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(s.Fragment.Text+"\n"), 0o644); err != nil {
			return fmt.Errorf("не удалось записать фрагмент сцены %d: %w", s.Index+1, err)
		}
	}
	return nil
}

func printSummary(cmd *cobra.Command, report pipeline.BatchReport) {
	out := cmd.OutOrStdout()
	for _, s := range report.Scenes {
		line := fmt.Sprintf("scene %d %-10s %s", s.Index+1, s.Status, s.Spec.Title)
		if s.CacheHit {
			line += " (cache)"
		}
		if s.Err != nil {
			line += ": " + s.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintf(out, "%d/%d scenes ok, tokens prompt=%d completion=%d, cost $%.4f\n",
		report.Succeeded(), len(report.Scenes), report.Usage.PromptTokens, report.Usage.CompletionTokens, report.Usage.EstimatedCostUSD)
	if report.Program != nil {
		fmt.Fprintf(out, "program: %s\n", report.Program.FileName)
	}
	if report.Full != nil && report.Full.ArtifactRef != "" {
		fmt.Fprintf(out, "video: %s\n", report.Full.ArtifactRef)
	}
}
