package main

import (
	"bytes"
	"context"
	"fmt"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/synthesis"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func (o *rootOptions) loadPolicy(ctx context.Context) (*policy.RuleSet, error) {
	provider, err := policy.Open(ctx, o.policyPath, false, zap.NewNop())
	if err != nil {
		return nil, err
	}
	return provider.Current(), nil
}

func newSanitizeCmd(opts *rootOptions) *cobra.Command {
	var fragmentPath string
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Strip fences, top-level declarations and forbidden lines from a fragment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := opts.loadPolicy(cmd.Context())
			if err != nil {
				return err
			}
			data, err := readInput(cmd, fragmentPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), synthesis.NewSanitizer(rs).Sanitize(string(data)))
			return nil
		},
	}
	cmd.Flags().StringVar(&fragmentPath, "fragment", "-", "Fragment file ('-' for stdin)")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		scenePath    string
		fragmentPath string
		sanitize     bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run deterministic checks of a fragment against a scene",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := opts.loadPolicy(cmd.Context())
			if err != nil {
				return err
			}
			spec, err := readScene(cmd, scenePath)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, fragmentPath)
			if err != nil {
				return err
			}

			text := string(data)
			if sanitize {
				text = synthesis.NewSanitizer(rs).Sanitize(text)
			}
			validator := synthesis.NewValidator(rs, nil, zap.NewNop(), synthesis.WithSyntaxChecker(synthesis.TreeSitterChecker{}))
			report, err := validator.Validate(cmd.Context(), model.Candidate{Text: text}, spec)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.IsClean() {
				fmt.Fprintf(out, "clean (policy %s)\n", rs.Version())
				return nil
			}
			fmt.Fprintf(out, "dirty (policy %s):\n%s\n", rs.Version(), report.Summary())
			opts.log.Warn().Int("issues", len(report.Issues())).Msg("Fragment failed validation")
			return errDirty
		},
	}
	cmd.Flags().StringVar(&scenePath, "scene", "", "Scene specification YAML")
	cmd.Flags().StringVar(&fragmentPath, "fragment", "-", "Fragment file ('-' for stdin)")
	cmd.Flags().BoolVar(&sanitize, "sanitize", false, "Sanitize the fragment before validation")
	_ = cmd.MarkFlagRequired("scene")
	return cmd
}

func readScene(cmd *cobra.Command, path string) (model.SceneSpecification, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return model.SceneSpecification{}, err
	}
	var spec model.SceneSpecification
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return model.SceneSpecification{}, fmt.Errorf("ошибка разбора сцены '%s': %w", path, err)
	}
	return spec, nil
}

func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and check rule sets",
	}

	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Parse and compile a policy file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := policy.Load(file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: version %s, %d forbidden patterns, %d structural requirements\n",
				rs.Version(), len(rs.Patterns()), len(rs.Requirements()))
			return nil
		},
	}
	check.Flags().StringVar(&file, "file", "", "Policy YAML file")
	_ = check.MarkFlagRequired("file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rs, err := opts.loadPolicy(cmd.Context())
			if err != nil {
				return err
			}
			data, err := policy.Marshal(rs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.AddCommand(check, show)
	return cmd
}
