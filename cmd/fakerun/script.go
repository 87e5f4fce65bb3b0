package main

import (
	"fmt"
	"math/rand"
)

type action int

const (
	actionWrite action = iota
	actionTruncate
	actionReplace
)

type step struct {
	action action
	line   string
}

type scriptOptions struct {
	Epochs        int
	StepsPerEpoch int
	Tokens        bool // emit [RF:...] tokens next to the text
	TruncateAt    int  // epoch before which the log is truncated, 0 disables
	ReplaceAt     int  // epoch before which the log is replaced, 0 disables
	FailAt        int  // epoch during which the run crashes, 0 disables
	Seed          int64
}

// buildScript lays out the lines a training run prints, in order, with the
// file operations interleaved. The second return value reports whether the
// run ends successfully.
func buildScript(opts scriptOptions) ([]step, bool) {
	rng := rand.New(rand.NewSource(opts.Seed))
	var steps []step

	emit := func(stage, text string) {
		if opts.Tokens && stage != "" {
			text = fmt.Sprintf("[RF:STAGE=%s] %s", stage, text)
		}
		steps = append(steps, step{action: actionWrite, line: text})
	}

	emit("STARTING", fmt.Sprintf("Starting run id=%08x", rng.Uint32()))
	emit("", "config: lr=0.001 batch_size=64 optimizer=adam")
	emit("LOADING_DATASET", "Loading dataset from /data/train")
	emit("", fmt.Sprintf("Loaded %d samples", 40000+rng.Intn(20000)))

	loss := 2.5
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if epoch == opts.TruncateAt {
			steps = append(steps, step{action: actionTruncate})
		}
		if epoch == opts.ReplaceAt {
			steps = append(steps, step{action: actionReplace})
		}

		header := fmt.Sprintf("Epoch %d/%d", epoch, opts.Epochs)
		if opts.Tokens {
			header = fmt.Sprintf("[RF:EPOCH=%d/%d] %s", epoch, opts.Epochs, header)
		}
		emit("TRAINING", header)

		for s := 1; s <= opts.StepsPerEpoch; s++ {
			loss *= 0.97 + rng.Float64()*0.02
			emit("", fmt.Sprintf("  step %d/%d loss=%.4f", s, opts.StepsPerEpoch, loss))
			if epoch == opts.FailAt && s == opts.StepsPerEpoch/2+1 {
				emit("", "Traceback (most recent call last):")
				emit("", "RuntimeError: CUDA error: out of memory")
				return steps, false
			}
		}
	}

	emit("EVALUATING", "Evaluating on the validation split")
	emit("", fmt.Sprintf("val_accuracy=%.4f", 0.85+rng.Float64()*0.1))
	emit("WRITING_ARTIFACTS", "Saving model checkpoint to /out/model.pt")
	emit("COMPLETED", "Training finished")
	return steps, true
}
