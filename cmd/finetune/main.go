// Command finetune resumes training of a pruned decoder checkpoint while
// keeping its sparsity pattern frozen: every weight that was zero in the
// checkpoint is still zero in the saved result.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/openfluke/warp/nn"
	"github.com/openfluke/warp/tokenizer"
	"github.com/openfluke/warp/train"
)

func main() {
	var cfg train.Config
	var whitelist string

	flag.StringVar(&cfg.ModelName, "model_name", "opt-125m", "base model name, used to locate the pruned checkpoint")
	flag.StringVar(&cfg.Sparsity, "sparsity", "0.5", "sparsity tag of the pruned checkpoint")
	flag.StringVar(&cfg.ModelDir, "model_dir", "pruned_models", "directory holding pruned checkpoints")
	flag.StringVar(&cfg.CorpusPath, "corpus", "", "path to the training text corpus (one sample per line)")
	flag.StringVar(&cfg.TokenizerPath, "tokenizer", "", "path to tokenizer.json")
	flag.StringVar(&cfg.CachePath, "token_cache", "", "optional sqlite token cache path")

	lr := flag.Float64("learning_rate", 2e-5, "peak learning rate")
	wd := flag.Float64("weight_decay", 2e-4, "AdamW weight decay")
	flag.IntVar(&cfg.Epochs, "num_epochs", 3, "number of training epochs")
	flag.IntVar(&cfg.BatchSize, "batch_size", 8, "effective batch size (gradient accumulation above max_device_batch)")
	flag.IntVar(&cfg.MaxDeviceBatch, "max_device_batch", 1, "largest batch run through a single forward pass")
	flag.IntVar(&cfg.MaxSeqLen, "max_length", 512, "maximum tokenized sequence length")
	flag.IntVar(&cfg.MaxSteps, "max_steps", 0, "cap on steps per epoch, 0 = full corpus")
	flag.IntVar(&cfg.TrainSteps, "train_steps", 1000, "schedule horizon in steps per epoch")
	flag.IntVar(&cfg.WarmupSteps, "warmup_steps", 2, "linear warmup steps")
	flag.Int64Var(&cfg.Seed, "seed", 42, "init seed")

	flag.StringVar(&cfg.CheckpointInterval, "checkpointing_steps", "", `save training state every N steps, or "epoch"`)
	flag.StringVar(&cfg.OutputDir, "output_dir", ".", "directory for checkpoint state dirs")
	flag.StringVar(&cfg.ResumeFrom, "resume_from_checkpoint", "", "state dir (step_N or epoch_N) to resume from")
	flag.BoolVar(&cfg.WithTracking, "with_tracking", false, "write a JSONL run log")
	flag.StringVar(&cfg.LoggingDir, "logging_dir", "logs", "directory for run logs")
	flag.BoolVar(&cfg.UseGPU, "gpu", false, "apply gradient masks on the WebGPU backend")
	cpu := flag.Bool("cpu", false, "force CPU masking even when -gpu is set")
	mixedPrecision := flag.String("mixed_precision", "no", `training precision: "no", "fp16", "bf16" or "fp8" (compute runs in fp32; the value is validated for checkpoint compatibility)`)
	flag.StringVar(&whitelist, "whitelist", "", "comma-separated substrings of maskable weight names (default q/k/v/out_proj,fc1,fc2)")

	hidden := flag.Int("hidden_size", 768, "model hidden size")
	ffn := flag.Int("ffn_size", 3072, "feed-forward inner size")
	layers := flag.Int("num_layers", 12, "decoder layer count")
	heads := flag.Int("num_heads", 12, "attention head count")
	maxPos := flag.Int("max_positions", 2048, "learned positional embedding count")
	flag.Parse()

	cfg.LearningRate = float32(*lr)
	cfg.WeightDecay = float32(*wd)
	if err := validatePrecision(*mixedPrecision); err != nil {
		fmt.Fprintln(os.Stderr, "finetune:", err)
		os.Exit(1)
	}
	if *cpu {
		cfg.UseGPU = false
	}
	if whitelist != "" {
		for _, s := range strings.Split(whitelist, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Whitelist = append(cfg.Whitelist, s)
			}
		}
	}

	if err := run(cfg, *hidden, *ffn, *layers, *heads, *maxPos); err != nil {
		fmt.Fprintln(os.Stderr, "finetune:", err)
		os.Exit(1)
	}
}

// validatePrecision accepts the precision choices the checkpoints were
// produced under. All compute here is fp32, but an unknown value is still a
// configuration mistake worth stopping on.
func validatePrecision(p string) error {
	switch p {
	case "no", "fp16", "bf16", "fp8":
		return nil
	}
	return fmt.Errorf(`mixed_precision must be one of "no", "fp16", "bf16", "fp8", got %q`, p)
}

func run(cfg train.Config, hidden, ffn, layers, heads, maxPos int) error {
	if cfg.CorpusPath == "" || cfg.TokenizerPath == "" {
		return fmt.Errorf("both -corpus and -tokenizer are required")
	}

	tok, err := tokenizer.LoadFromFile(cfg.TokenizerPath)
	if err != nil {
		return err
	}

	model, err := train.LoadPrunedModel(cfg, nn.DecoderConfig{
		VocabSize:    tok.VocabSize(),
		MaxPositions: maxPos,
		HiddenSize:   hidden,
		FFNSize:      ffn,
		NumLayers:    layers,
		NumHeads:     heads,
	})
	if err != nil {
		return err
	}

	ft, err := train.NewFinetuner(cfg, model, tok, tok.PadID())
	if err != nil {
		return err
	}
	return ft.Run()
}
