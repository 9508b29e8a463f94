// root.go assembles the gpuinfer CLI: a thin cobra adapter over
// generate.Generate, following cmd/cmd.go's NewCLI() root-builder and
// cmd/cmd_builders.go's newXCmd() factory-per-subcommand shape. Unlike the
// teacher's cmd package, this CLI talks directly to the in-process pipeline
// rather than a running server, since the core this module implements has
// no server boundary of its own (spec.md §6 names the manifest/shard/
// tokenizer files as the only external collaborators).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollama-fork/gpuinfer/adapter"
	"github.com/ollama-fork/gpuinfer/envconfig"
	"github.com/ollama-fork/gpuinfer/fs"
	"github.com/ollama-fork/gpuinfer/generate"
	"github.com/ollama-fork/gpuinfer/gpu"
	_ "github.com/ollama-fork/gpuinfer/gpu/wgpu"
	"github.com/ollama-fork/gpuinfer/gpuerr"
	"github.com/ollama-fork/gpuinfer/logutil"
	"github.com/ollama-fork/gpuinfer/pipeline"
)

// Exit codes. spec.md §6's three-way error taxonomy (config/adapter errors
// are the caller's fault; dispatch/resource/shape errors are the runtime's)
// collapses onto cobra's single RunE error return, so this CLI maps
// gpuerr's sentinel kinds to one of three codes at the top level rather
// than having every subcommand compute its own.
const (
	exitOK           = 0
	exitInputError   = 2
	exitRuntimeError = 3
)

// exitCodeFor classifies err per the sentinel kinds gpuerr.errors.go
// defines: ErrConfig/ErrAdapter are problems with the caller's inputs
// (bad manifest, bad vocab file, missing shard); everything else
// (ErrDispatch/ErrResourceExhausted/ErrShape, or an error this CLI didn't
// originate) is treated as a runtime failure.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, gpuerr.ErrConfig) || errors.Is(err, gpuerr.ErrAdapter) {
		return exitInputError
	}
	return exitRuntimeError
}

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	root := &cobra.Command{
		Use:           "gpuinfer",
		Short:         "Run transformer inference on a GPU compute-shader backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newSelftestCmd())
	appendEnvDocs(root)

	return root
}

// appendEnvDocs appends an environment-variable usage section to root's
// long help text, following cmd.go's appendEnvDocs (same idea: list each
// var envconfig.AsMap tracks with its description, sorted for stable
// output).
func appendEnvDocs(cmd *cobra.Command) {
	vars := envconfig.AsMap()
	if len(vars) == 0 {
		return
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\nEnvironment Variables:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-24s %s\n", name, vars[name].Description)
	}
	cmd.Long = cmd.Short + "\n" + b.String()
}

func newRunCmd() *cobra.Command {
	var (
		manifestPath string
		shardDir     string
		vocabPath    string
		device       string
		maxTokens    int
		temperature  float32
		topP         float32
		topK         int
		repPenalty   float32
		stats        bool
	)

	cmd := &cobra.Command{
		Use:   "run PROMPT",
		Short: "Generate text from a prompt against a loaded model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, runOpts{
				prompt:       args[0],
				manifestPath: manifestPath,
				shardDir:     shardDir,
				vocabPath:    vocabPath,
				device:       device,
				stats:        stats,
				genOpts: generate.Options{
					MaxTokens:         maxTokens,
					Temperature:       temperature,
					TopP:              topP,
					TopK:              topK,
					RepetitionPenalty: repPenalty,
				},
			})
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the model manifest JSON (spec.md §6.1)")
	cmd.Flags().StringVar(&shardDir, "shards", "", "Directory containing shard0.bin, shard1.bin, ...")
	cmd.Flags().StringVar(&vocabPath, "vocab", "", "Path to a tokenizer vocab JSON (model.vocab/model.merges)")
	cmd.Flags().StringVar(&device, "device", "wgpu", "GPU backend: wgpu or fake")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 256, "Maximum tokens to generate")
	cmd.Flags().Float32Var(&temperature, "temperature", 0.8, "Sampling temperature")
	cmd.Flags().Float32Var(&topP, "top-p", 0.95, "Nucleus sampling threshold")
	cmd.Flags().IntVar(&topK, "top-k", 40, "Top-k sampling cutoff")
	cmd.Flags().Float32Var(&repPenalty, "repeat-penalty", 1.1, "Repetition penalty")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print a run-summary table after generation")
	cmd.MarkFlagRequired("manifest")
	cmd.MarkFlagRequired("shards")
	cmd.MarkFlagRequired("vocab")

	return cmd
}

func newSelftestCmd() *cobra.Command {
	var stats bool

	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run a synthetic fakedevice-backed model to exercise the full stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := buildSelftestModel()
			if err != nil {
				return &gpuerr.AdapterError{Adapter: "selftest", Err: err}
			}
			tok := buildSelftestTokenizer()

			return generateAndPrint(cmd, model, tok, selftestPrompt, generate.Options{
				MaxTokens:         4,
				Temperature:       0.0,
				TopK:              1,
				RepetitionPenalty: 1.0,
			}, stats)
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "Print a run-summary table after generation")
	return cmd
}

type runOpts struct {
	prompt       string
	manifestPath string
	shardDir     string
	vocabPath    string
	device       string
	stats        bool
	genOpts      generate.Options
}

func runGenerate(cmd *cobra.Command, o runOpts) error {
	manifestData, err := os.ReadFile(o.manifestPath)
	if err != nil {
		return &gpuerr.ConfigError{Field: "manifest", Err: err}
	}
	fsCfg, err := fs.ParseManifest(manifestData)
	if err != nil {
		return err
	}
	pcfg, err := pipeline.FromManifest(fsCfg)
	if err != nil {
		return err
	}
	if cl := int(envconfig.ContextLength()); cl > 0 && cl < pcfg.MaxSeqLen {
		pcfg.MaxSeqLen = cl
	}

	dev, err := gpu.NewDevice(o.device, nil)
	if err != nil {
		return &gpuerr.ConfigError{Field: "device", Err: err}
	}
	if overhead := envconfig.GpuOverhead(); overhead > 0 {
		slog.Debug("reserving VRAM overhead", "bytes", overhead)
	}

	shards := newLocalShardLoader(o.shardDir)
	weights, err := LoadWeights(dev, fsCfg, pcfg, shards)
	if err != nil {
		return err
	}

	model, err := pipeline.NewModel(dev, pcfg, weights, nil, nil, nil)
	if err != nil {
		return err
	}

	tok, err := loadTokenizer(o.vocabPath)
	if err != nil {
		return &gpuerr.AdapterError{Adapter: "vocab", Err: err}
	}

	return generateAndPrint(cmd, model, tok, o.prompt, o.genOpts, o.stats)
}

func generateAndPrint(cmd *cobra.Command, model *pipeline.Model, tok adapter.Tokenizer, prompt string, opts generate.Options, stats bool) error {
	start := time.Now()
	now := func() float64 { return float64(time.Since(start).Microseconds()) / 1000 }

	tokens, results, err := generate.Generate(cmd.Context(), model, tok, prompt, opts, now)
	if err != nil {
		return err
	}

	for t := range tokens {
		fmt.Fprint(cmd.OutOrStdout(), t.Text)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	res := <-results
	if stats {
		printStats(cmd.OutOrStdout(), res)
	}
	return nil
}
