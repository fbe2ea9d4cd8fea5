// Command agent runs the Agent Orchestrator (spec §4.6): it dials the
// Audio Broker and Wakeword/Utterance services as a TCP client, drives
// the wakeword → STT → LLM → TTS loop through pkg/agent, and exits with
// the status codes spec §6 assigns to configuration and dependency
// failures.
//
// Audio capture and wakeword detection normally live in their own
// binaries (cmd/audiobroker, cmd/wakewordd); this binary only needs to
// reach them over TCP. Two fallback modes skip that entirely: --local-mic
// runs the teacher's original single-process pipeline (local.go), one
// malgo duplex device driving a pkg/orchestrator.ManagedStream directly
// with no broker or wakeword service in the loop; --text-chat drives the
// same LLM/TTS turn-taking from stdin/stdout with no audio device at all
// (textchat.go), for exercising provider wiring without hardware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	agentpkg "github.com/voxedge/agent/pkg/agent"
	"github.com/voxedge/agent/pkg/brokerclient"
	"github.com/voxedge/agent/pkg/config"
	"github.com/voxedge/agent/pkg/logging"
	"github.com/voxedge/agent/pkg/orchestrator"
	llmProvider "github.com/voxedge/agent/pkg/providers/llm"
	sttProvider "github.com/voxedge/agent/pkg/providers/stt"
	ttsProvider "github.com/voxedge/agent/pkg/providers/tts"
	"github.com/voxedge/agent/pkg/sttbridge"
	"github.com/voxedge/agent/pkg/wakewordclient"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "agent: no .env file found, using system environment variables")
	}

	flags := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	flags.String("audio-address", "127.0.0.1:8080", "audio broker address")
	flags.String("wakeword-address", "127.0.0.1:8081", "wakeword/utterance service address")
	localMic := flags.Bool("local-mic", false, "bypass the audio broker and wakeword service; run the teacher's original single-process ManagedStream pipeline against a local malgo device")
	textChat := flags.Bool("text-chat", false, "run a stdin/stdout text-only REPL against the orchestrator instead of any audio path")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	requiredSecrets := []string{"LOKUTOR_API_KEY"}
	cfg, err := config.Load(flags, requiredSecrets...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: configuration error: %v\n", err)
		return 1
	}

	log, err := logging.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: logger init: %v\n", err)
		return 1
	}
	defer log.Sync()

	stt, err := buildSTTProvider(cfg)
	if err != nil {
		log.Error("agent: %v", err)
		return 1
	}
	llm, err := buildLLMProvider(cfg)
	if err != nil {
		log.Error("agent: %v", err)
		return 1
	}
	tts := ttsProvider.NewLokutorTTS(cfg.Secret("LOKUTOR_API_KEY"))

	lang := orchestrator.Language(cfg.Language)
	if lang == "" {
		lang = orchestrator.LanguageEn
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Language = lang
	orchCfg.SampleRate = cfg.SampleRate

	var vad orchestrator.VADProvider
	if *localMic {
		// Only the local-mic path drives ManagedStream, which needs its own
		// VAD; the multi-process path gets speech boundaries from the
		// Wakeword/Utterance service instead.
		orchCfg.SampleRate = cfg.DeviceRate
		vad = orchestrator.NewRMSVAD(0.02, 500*time.Millisecond)
	}
	orch := orchestrator.NewWithLogger(stt, llm, tts, vad, orchCfg, log)

	session := orch.NewSessionWithDefaults("edge-agent")
	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if lang == orchestrator.LanguageEs {
		systemPrompt = "Eres un asistente de voz util y conciso. Usa frases cortas adecuadas para el habla."
	}
	orch.SetSystemPrompt(session, systemPrompt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("agent: shutting down")
		cancel()
	}()

	if *localMic {
		log.Info("agent: local-mic mode, STT=%s LLM=%s TTS=lokutor language=%s", cfg.STTProvider, cfg.LLMProvider, lang)
		return runLocalMic(ctx, cfg.DeviceRate, orch, session, log)
	}

	if *textChat {
		log.Info("agent: text-chat mode, STT=%s LLM=%s TTS=lokutor language=%s", cfg.STTProvider, cfg.LLMProvider, lang)
		conv := orchestrator.NewConversationWithConfig(stt, llm, tts, orchCfg)
		conv.SetSystemPrompt(systemPrompt)
		return runTextChat(ctx, conv, log)
	}

	bridge := sttbridge.New(sttbridge.Config{
		URL:        cfg.STTWebsocketURL,
		APIKey:     cfg.Secret("GROQ_API_KEY"),
		SampleRate: cfg.SampleRate,
	}, log)

	bc, err := brokerclient.Dial(cfg.AudioAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: cannot reach audio broker at %s: %v\n", cfg.AudioAddress, err)
		return 2
	}
	defer bc.Close()

	wc, err := wakewordclient.Dial(cfg.WakewordAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent: cannot reach wakeword service at %s: %v\n", cfg.WakewordAddress, err)
		return 2
	}
	defer wc.Close()

	a := agentpkg.New(bc, wc, bridge, orch, session, log)
	defer a.Close()

	log.Info("agent: ready, STT=%s LLM=%s TTS=lokutor language=%s", cfg.STTProvider, cfg.LLMProvider, lang)

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return 0
		}
		log.Error("agent: orchestration loop exited: %v", err)
		return 2
	}
	return 0
}

func buildSTTProvider(cfg *config.Config) (orchestrator.STTProvider, error) {
	switch cfg.STTProvider {
	case "openai":
		key := cfg.Secret("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(key, "whisper-1"), nil
	case "deepgram":
		key := cfg.Secret("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(key), nil
	case "assemblyai":
		key := cfg.Secret("ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(key), nil
	case "groq", "":
		key := cfg.Secret("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		return sttProvider.NewGroqSTT(key, "whisper-large-v3-turbo"), nil
	default:
		return nil, fmt.Errorf("unknown STT_PROVIDER %q", cfg.STTProvider)
	}
}

func buildLLMProvider(cfg *config.Config) (orchestrator.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "openai":
		key := cfg.Secret("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(key, "gpt-4o"), nil
	case "anthropic":
		key := cfg.Secret("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(key, "claude-3-5-sonnet-20241022"), nil
	case "google":
		key := cfg.Secret("GOOGLE_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(key, "gemini-1.5-flash"), nil
	case "groq", "":
		key := cfg.Secret("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(key, "llama-3.3-70b-versatile"), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}
