// Package nn implements the model and gradient machinery for
// sparsity-preserving fine-tuning of a pruned causal language model.
//
// A pruned checkpoint carries weights where a subset of elements has been
// zeroed. Fine-tuning such a checkpoint must not resurrect those elements:
// the optimizer would otherwise move them away from zero on the first step.
// The package solves this with gradient mask hooks: per-parameter callbacks
// that multiply the incoming gradient by a 0/1 mask captured from the
// weight's sparsity pattern at installation time.
//
// Example usage:
//
//	model, _ := nn.NewDecoder(cfg, seed)
//	model.LoadWeights(tensors)
//
//	reg := nn.NewHookRegistry(nil)
//	reg.InstallMaskHooks(model.NamedParameters(), nn.DefaultWhitelist())
//	defer reg.RemoveAll()
//
//	state, _ := model.Forward(tokens, padID)
//	loss, dlogits := nn.CausalLMLoss(state.Logits, tokens, padID, model.Config.VocabSize)
//	model.Backward(state, dlogits)
//	opt.Step(model.NamedParameters(), lr)
//
// Hooks run synchronously inside Backward on the local gradient only; the
// package performs no cross-process communication of its own.
package nn
