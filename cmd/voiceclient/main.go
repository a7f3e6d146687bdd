// voiceclient streams a WAV file to a running gateway over the
// websocket endpoint and prints the transcript events it gets back.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate/voicegate/internal/audio"
)

// At 16kHz 16-bit mono, 100ms of audio is 3200 bytes.
const (
	chunkSize       = 3200
	chunkIntervalMs = 100
)

func main() {
	wsAddr := flag.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	audioFile := flag.String("audio", "sample-16khz.wav", "path to a 16kHz 16-bit mono PCM WAV file")
	realtime := flag.Bool("realtime", true, "pace chunks at real-time speed")
	flag.Parse()

	raw, err := os.ReadFile(*audioFile)
	if err != nil {
		log.Fatalf("read audio file: %v", err)
	}
	pcm, format, err := audio.DecodeWAVPCM16LE(raw)
	if err != nil {
		log.Fatalf("parse WAV: %v", err)
	}
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d pcmBytes=%d",
		format.NumChannels, format.SampleRate, format.BitsPerSample, len(pcm))
	if format.SampleRate != 16000 {
		log.Printf("warning: sample rate is %d Hz, the gateway expects 16000 Hz", format.SampleRate)
	}
	if format.NumChannels != 1 || format.BitsPerSample != 16 {
		log.Fatal("only 16-bit mono PCM is supported")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*wsAddr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *wsAddr, err)
	}
	defer conn.Close()

	// Events arrive concurrently with the upload.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ev map[string]any
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			switch ev["type"] {
			case "ready":
				log.Printf("session ready: %v", ev["sessionId"])
			case "partial":
				log.Printf("partial: %v", ev["text"])
			case "final":
				log.Printf("final: %v", ev["text"])
				return
			case "error":
				log.Printf("error: %v", ev["message"])
				return
			}
		}
	}()

	var chunkNum int
	start := time.Now()
	for offset := 0; offset < len(pcm); offset += chunkSize {
		end := offset + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[offset:end]); err != nil {
			log.Fatalf("send audio frame: %v", err)
		}
		chunkNum++
		if chunkNum%10 == 0 {
			log.Printf("sent %d chunks (%d bytes)", chunkNum, end)
		}
		if *realtime {
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}
	}
	log.Printf("finished streaming %d chunks in %v, sending end_stream", chunkNum, time.Since(start))

	endMsg, _ := json.Marshal(map[string]string{"type": "end_stream"})
	if err := conn.WriteMessage(websocket.TextMessage, endMsg); err != nil {
		log.Fatalf("send end_stream: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Fatal("timed out waiting for the final transcript")
	}
}
