package train

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/openfluke/warp/dataset"
	"github.com/openfluke/warp/gpu"
	"github.com/openfluke/warp/nn"
)

// Finetuner runs sparsity-preserving fine-tuning end to end for one pruned
// checkpoint: mask hooks in, train, mask hooks out, save.
type Finetuner struct {
	cfg      Config
	interval CheckpointEvery
	model    *nn.Decoder
	loader   *dataset.Loader
	cache    *dataset.TokenCache
	padID    int

	opt      nn.Optimizer
	sched    nn.LRScheduler
	registry *nn.HookRegistry
	tracker  *RunTracker

	accumSteps int
	optSteps   int
}

// NewFinetuner validates the config and wires the data pipeline. The model
// is supplied by the caller (freshly built and loaded from the pruned
// checkpoint, or about to be restored from a state dir).
func NewFinetuner(cfg Config, model *nn.Decoder, enc dataset.Encoder, padID int) (*Finetuner, error) {
	cfg.ApplyDefaults()

	// Invalid checkpoint intervals are a setup-time failure, before any
	// training work happens.
	interval, err := ParseCheckpointInterval(cfg.CheckpointInterval)
	if err != nil {
		return nil, err
	}

	deviceBatch := cfg.MaxDeviceBatch
	accum := 1
	if cfg.BatchSize > deviceBatch {
		accum = cfg.BatchSize / deviceBatch
	} else {
		deviceBatch = cfg.BatchSize
	}

	stream, err := dataset.OpenTextStream(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	var cache *dataset.TokenCache
	if cfg.CachePath != "" {
		cache, err = dataset.OpenTokenCache(cfg.CachePath)
		if err != nil {
			stream.Close()
			return nil, err
		}
	}
	loader, err := dataset.NewLoader(stream, enc, cache, dataset.LoaderConfig{
		BatchSize: deviceBatch,
		MaxLength: cfg.MaxSeqLen,
		PadID:     padID,
	})
	if err != nil {
		stream.Close()
		return nil, err
	}

	var applier nn.MaskApplier
	if cfg.UseGPU {
		gpuApplier, err := gpu.NewMaskApplier()
		if err != nil {
			fmt.Printf("GPU backend unavailable (%v), masking on CPU\n", err)
		} else {
			applier = gpuApplier
		}
	}

	f := &Finetuner{
		cfg:        cfg,
		interval:   interval,
		model:      model,
		loader:     loader,
		cache:      cache,
		padID:      padID,
		accumSteps: accum,
		registry:   nn.NewHookRegistry(applier),
	}

	f.opt = nn.NewAdamWOptimizer(0.9, 0.999, 1e-8, cfg.WeightDecay)
	totalOptSteps := (cfg.TrainSteps * cfg.Epochs) / accum
	f.sched = nn.NewLinearWarmupScheduler(cfg.LearningRate, cfg.WarmupSteps, totalOptSteps)

	if cfg.WithTracking {
		f.tracker, err = NewRunTracker(cfg.LoggingDir)
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Run executes the fine-tuning loop. Mask hooks are guaranteed to be gone on
// every exit path, error or not, so the model object can be reused or
// serialized afterwards.
func (f *Finetuner) Run() error {
	defer f.tracker.Close()
	defer f.loader.Close()
	if f.cache != nil {
		defer f.cache.Close()
	}

	installed := f.registry.InstallMaskHooks(f.model.NamedParameters(), f.cfg.Whitelist)
	defer f.registry.RemoveAll()

	fmt.Printf("Installed %d gradient mask hooks (%s)\n", installed, f.opt.Name())
	for _, stat := range f.registry.Stats() {
		fmt.Printf("  %s: prop nonzeros %.4f\n", stat.Name, stat.Nonzero)
	}

	startEpoch := 0
	resumeSkip := 0
	overallStep := 0
	if f.cfg.ResumeFrom != "" {
		state, err := LoadState(f.cfg.ResumeFrom, f.model)
		if err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		if err := f.opt.LoadState(state.Optimizer); err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		point, err := ParseResumePoint(f.cfg.ResumeFrom)
		if err != nil {
			return fmt.Errorf("resume failed: %w", err)
		}
		startEpoch = point.Epoch
		resumeSkip = point.Step
		overallStep = state.OverallStep
		f.optSteps = state.Optimizer.Step
		fmt.Printf("Resumed from checkpoint: %s\n", f.cfg.ResumeFrom)

		// The sparsity pattern may only have survived because of the
		// masks; reinstall against the restored weights so a pattern
		// captured pre-restore never leaks across checkpoints.
		f.registry.RemoveAll()
		f.registry.InstallMaskHooks(f.model.NamedParameters(), f.cfg.Whitelist)
	}

	for epoch := startEpoch; epoch < f.cfg.Epochs; epoch++ {
		trace := StartMemTrace()

		totalLoss := 0.0
		batches := 0
		step := 0
		for {
			if f.cfg.MaxSteps > 0 && step == f.cfg.MaxSteps {
				break
			}
			batch, err := f.loader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if epoch == startEpoch && step < resumeSkip {
				step++
				continue
			}

			state, err := f.model.Forward(batch.Tokens, f.padID)
			if err != nil {
				return err
			}
			loss, dLogits := nn.CausalLMLoss(state.Logits, batch.Tokens, f.padID, f.model.Config.VocabSize)
			loss /= float64(f.accumSteps)
			scale := 1.0 / float32(f.accumSteps)
			for i := range dLogits {
				dLogits[i] *= scale
			}
			f.model.Backward(state, dLogits)

			totalLoss += loss
			batches++

			var lr float32
			if (step+1)%f.accumSteps == 0 {
				lr = f.sched.GetLR(f.optSteps)
				f.opt.Step(f.model.NamedParameters(), lr)
				f.model.ZeroGrads()
				f.optSteps++
			}

			overallStep++
			step++

			f.tracker.Log(TrackedEvent{Kind: "step", Epoch: epoch, Step: overallStep, Loss: loss, LR: float64(lr)})

			if f.interval.Steps > 0 && overallStep%f.interval.Steps == 0 {
				dir := filepath.Join(f.cfg.OutputDir, fmt.Sprintf("step_%d", overallStep))
				if err := f.saveState(dir, epoch, overallStep); err != nil {
					return err
				}
			}
		}

		trace.Stop()
		fmt.Printf("Memory before entering the train : %d\n", trace.BeginMiB())
		fmt.Printf("Memory consumed at the end of the train (end-begin): %d\n", trace.UsedMiB())
		fmt.Printf("Peak Memory consumed during the train (max-begin): %d\n", trace.PeakedMiB())
		fmt.Printf("Total Peak Memory consumed during the train (max): %d\n", trace.TotalPeakMiB())
		if batches > 0 {
			fmt.Printf("Epoch %d: avg loss %.4f over %d batches\n", epoch, totalLoss/float64(batches), batches)
		}
		f.tracker.Log(TrackedEvent{Kind: "epoch", Epoch: epoch, MemMiB: trace.TotalPeakMiB()})

		if f.interval.EveryEpoch {
			dir := filepath.Join(f.cfg.OutputDir, fmt.Sprintf("epoch_%d", epoch+1))
			if err := f.saveState(dir, epoch+1, overallStep); err != nil {
				return err
			}
		}

		if err := f.loader.Reset(); err != nil {
			return err
		}
	}

	// Hooks must be gone before the final artifact is written: a serialized
	// model must not carry closure state tied to a discarded mask.
	f.registry.RemoveAll()

	if err := nn.SaveSafetensors(f.cfg.FinetunedPath(), f.model.ExportWeights()); err != nil {
		return fmt.Errorf("failed to save fine-tuned model: %w", err)
	}
	fmt.Printf("Saved fine-tuned model to %s\n", f.cfg.FinetunedPath())
	return nil
}

func (f *Finetuner) saveState(dir string, epoch, overallStep int) error {
	return SaveState(dir, f.model, TrainingState{
		Epoch:       epoch,
		OverallStep: overallStep,
		RunID:       f.runID(),
		Optimizer:   f.opt.State(),
	})
}

func (f *Finetuner) runID() string {
	if f.tracker == nil {
		return ""
	}
	return f.tracker.RunID
}

// Registry exposes the hook registry, mainly for tests asserting the
// no-leak property.
func (f *Finetuner) Registry() *nn.HookRegistry {
	return f.registry
}

// LoadPrunedModel builds a decoder and loads the pruned checkpoint the
// config points at.
func LoadPrunedModel(cfg Config, decoderCfg nn.DecoderConfig) (*nn.Decoder, error) {
	cfg.ApplyDefaults()
	model, err := nn.NewDecoder(decoderCfg, cfg.Seed)
	if err != nil {
		return nil, err
	}
	tensors, err := nn.LoadSafetensors(cfg.PrunedCheckpointPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load pruned checkpoint: %w", err)
	}
	if err := model.LoadWeights(tensors); err != nil {
		return nil, err
	}
	return model, nil
}
