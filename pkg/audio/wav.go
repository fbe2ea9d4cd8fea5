package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)


func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint16(1))            
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) 
	binary.Write(buf, binary.LittleEndian, uint16(2))            
	binary.Write(buf, binary.LittleEndian, uint16(16))           

	
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWav parses a canonical PCM WAV container (the shape NewWavBuffer
// produces: one "fmt " chunk followed by one "data" chunk) and returns
// the raw PCM payload and the sample rate from the fmt chunk. Only
// uncompressed 16-bit PCM (audio format tag 1) is supported; this is
// enough for the fixture WAVs the wakeword detector's tests feed in.
func DecodeWav(data []byte) (pcm []byte, sampleRate int, err error) {
	r := bytes.NewReader(data)

	var riffTag [4]byte
	if _, err := r.Read(riffTag[:]); err != nil || string(riffTag[:]) != "RIFF" {
		return nil, 0, fmt.Errorf("audio: not a RIFF container")
	}
	var riffSize uint32
	if err := binary.Read(r, binary.LittleEndian, &riffSize); err != nil {
		return nil, 0, fmt.Errorf("audio: truncated RIFF header: %w", err)
	}
	var waveTag [4]byte
	if _, err := r.Read(waveTag[:]); err != nil || string(waveTag[:]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a WAVE file")
	}

	var (
		haveFmt    bool
		haveData   bool
		numChans   uint16
		bitsPerSmp uint16
	)

	for {
		var chunkID [4]byte
		if _, err := r.Read(chunkID[:]); err != nil {
			break
		}
		var chunkSize uint32
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return nil, 0, fmt.Errorf("audio: truncated chunk header: %w", err)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			fmtBody := make([]byte, chunkSize)
			if _, err := r.Read(fmtBody); err != nil {
				return nil, 0, fmt.Errorf("audio: truncated fmt chunk: %w", err)
			}
			fr := bytes.NewReader(fmtBody)
			var audioFormat uint16
			var sr, byteRate uint32
			var blockAlign uint16
			binary.Read(fr, binary.LittleEndian, &audioFormat)
			binary.Read(fr, binary.LittleEndian, &numChans)
			binary.Read(fr, binary.LittleEndian, &sr)
			binary.Read(fr, binary.LittleEndian, &byteRate)
			binary.Read(fr, binary.LittleEndian, &blockAlign)
			binary.Read(fr, binary.LittleEndian, &bitsPerSmp)
			if audioFormat != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported wav format tag %d, only PCM is decoded", audioFormat)
			}
			sampleRate = int(sr)
			haveFmt = true
		case "data":
			pcm = make([]byte, chunkSize)
			if _, err := r.Read(pcm); err != nil {
				return nil, 0, fmt.Errorf("audio: truncated data chunk: %w", err)
			}
			haveData = true
		default:
			if _, err := r.Seek(int64(chunkSize), 1); err != nil {
				return nil, 0, fmt.Errorf("audio: skip chunk %q: %w", string(chunkID[:]), err)
			}
		}
		if chunkSize%2 == 1 {
			r.Seek(1, 1)
		}
	}

	if !haveFmt || !haveData {
		return nil, 0, fmt.Errorf("audio: wav missing fmt or data chunk")
	}
	if bitsPerSmp != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported bits-per-sample %d, only 16-bit PCM is decoded", bitsPerSmp)
	}
	if numChans != 1 {
		return nil, 0, fmt.Errorf("audio: unsupported channel count %d, only mono is decoded", numChans)
	}

	return pcm, sampleRate, nil
}
