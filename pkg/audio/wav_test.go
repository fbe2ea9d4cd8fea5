package audio

import (
	"bytes"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestDecodeWavRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	sampleRate := 16000
	wav := NewWavBuffer(pcm, sampleRate)

	decodedPCM, decodedRate, err := DecodeWav(wav)
	if err != nil {
		t.Fatalf("DecodeWav: %v", err)
	}
	if decodedRate != sampleRate {
		t.Errorf("expected sample rate %d, got %d", sampleRate, decodedRate)
	}
	if !bytes.Equal(decodedPCM, pcm) {
		t.Errorf("expected pcm %v, got %v", pcm, decodedPCM)
	}
}

func TestDecodeWavRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWav([]byte("not a wav file at all")); err == nil {
		t.Fatal("expected error decoding non-wav data")
	}
}
