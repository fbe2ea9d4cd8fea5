// Command wakewordd runs the Wakeword Detector and Utterance Capture
// modules behind one TCP listener (spec §4.3/§4.4/§6): it subscribes to
// the Audio Broker's capture stream, runs the three-stage mel→embedding→
// classifier pipeline over it, and opens a VAD-gated utterance session
// on every detection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/voxedge/agent/pkg/brokerclient"
	"github.com/voxedge/agent/pkg/config"
	"github.com/voxedge/agent/pkg/logging"
	"github.com/voxedge/agent/pkg/vad"
	"github.com/voxedge/agent/pkg/wakeword"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("wakewordd", pflag.ContinueOnError)
	flags.String("audio-address", "127.0.0.1:8080", "audio broker address to subscribe to")
	flags.String("wakeword-address", "127.0.0.1:8081", "bind address for the wakeword/utterance TCP service")
	flags.String("melspec-model-path", "", "path to the mel-spectrogram ONNX model")
	flags.String("embedding-model-path", "", "path to the embedding ONNX model")
	flags.String("onnx-shared-lib-path", "", "optional path to a non-default ONNX Runtime shared library")
	flags.String("wakeword-models", "", "comma-separated name:path:threshold keyword classifier specs")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakewordd: configuration error: %v\n", err)
		return 1
	}

	log, err := logging.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakewordd: logger init: %v\n", err)
		return 1
	}
	defer log.Sync()

	if cfg.MelspecModelPath == "" || cfg.EmbeddingModelPath == "" || len(cfg.WakewordModels) == 0 {
		fmt.Fprintln(os.Stderr, "wakewordd: configuration error: --melspec-model-path, --embedding-model-path and --wakeword-models are required")
		return 1
	}

	models, err := parseModels(cfg.WakewordModels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakewordd: configuration error: %v\n", err)
		return 1
	}

	pipeline, err := wakeword.NewPipeline(wakeword.PipelineConfig{
		MelspecModelPath:   cfg.MelspecModelPath,
		EmbeddingModelPath: cfg.EmbeddingModelPath,
		SharedLibPath:      cfg.ONNXSharedLibPath,
		Models:             models,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakewordd: pipeline init failed: %v\n", err)
		return 2
	}
	defer pipeline.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("wakewordd: shutting down")
		cancel()
	}()

	bc, err := brokerclient.Dial(cfg.AudioAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wakewordd: cannot reach audio broker at %s: %v\n", cfg.AudioAddress, err)
		return 2
	}
	defer bc.Close()

	scorerFactory := func() (vad.SpeechScorer, error) {
		if cfg.VADModelPath == "" {
			return vad.NewRMSScorer(0), nil
		}
		return vad.NewONNXScorer(cfg.VADModelPath, cfg.ONNXSharedLibPath)
	}

	service := wakeword.NewService(pipeline, bc, scorerFactory, vad.DefaultConfig(), log)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- service.Run(ctx) }()

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- service.ListenAndServe(cfg.WakewordAddress) }()

	select {
	case <-ctx.Done():
		return 0
	case err := <-runErrCh:
		if ctx.Err() != nil {
			return 0
		}
		log.Error("wakewordd: pipeline loop exited: %v", err)
		return 2
	case err := <-serverErrCh:
		if ctx.Err() != nil {
			return 0
		}
		log.Error("wakewordd: server exited: %v", err)
		return 2
	}
}

// parseModels decodes "name:path:threshold" specs (threshold optional,
// defaults to the pipeline's own 0.09 reference default).
func parseModels(specs []string) ([]wakeword.ModelConfig, error) {
	models := make([]wakeword.ModelConfig, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --wakeword-models entry %q, want name:path[:threshold]", spec)
		}
		mc := wakeword.ModelConfig{Name: parts[0], ClassifierPath: parts[1]}
		if len(parts) >= 3 {
			var threshold float64
			if _, err := fmt.Sscanf(parts[2], "%f", &threshold); err != nil {
				return nil, fmt.Errorf("invalid threshold in --wakeword-models entry %q: %w", spec, err)
			}
			mc.Threshold = float32(threshold)
		}
		models = append(models, mc)
	}
	return models, nil
}
