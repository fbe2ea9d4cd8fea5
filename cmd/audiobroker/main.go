// Command audiobroker runs the Audio Broker TCP service (spec §4.1/§6):
// it captures microphone PCM, fans it out to subscribers, and accepts
// playback streams mixed to the speaker. It is the only binary in the
// agent that touches physical audio devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/voxedge/agent/pkg/broker"
	"github.com/voxedge/agent/pkg/config"
	"github.com/voxedge/agent/pkg/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("audiobroker", pflag.ContinueOnError)
	flags.String("audio-address", "127.0.0.1:8080", "bind address for the audio broker TCP service")
	flags.Int("device-rate", 44100, "native sample rate to open the audio device at")
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiobroker: configuration error: %v\n", err)
		return 1
	}

	log, err := logging.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiobroker: logger init: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("audiobroker: shutting down")
		cancel()
	}()

	b := broker.New(cfg.DeviceRate, log)
	go b.RunMixer(ctx)

	deviceErrCh := make(chan error, 1)
	go func() {
		deviceErrCh <- b.Start(ctx)
	}()

	server := broker.NewServer(b, log)
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe(cfg.AudioAddress)
	}()

	select {
	case <-ctx.Done():
		return 0
	case err := <-deviceErrCh:
		if ctx.Err() != nil {
			return 0
		}
		log.Error("audiobroker: device loop exited: %v", err)
		return 2
	case err := <-serverErrCh:
		if ctx.Err() != nil {
			return 0
		}
		log.Error("audiobroker: server exited: %v", err)
		return 2
	}
}
