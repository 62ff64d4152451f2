// Command modelmock is a standalone fake of the generation and synthesis
// backends, used for local end-to-end testing without GPU models. It streams
// a canned token response and answers synthesis requests with a sine tone.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/internal/audio"
)

const synthesisSampleRate = 24000

var cannedResponse = "Hello, I am doing well, thank you for asking. How are you today?"

type tokenEvent struct {
	Text    string `json:"text"`
	TokenID int    `json:"token_id"`
	Done    bool   `json:"done"`
}

type synthesisRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type synthesisResponse struct {
	AudioData  string  `json:"audio_data"`
	SampleRate int     `json:"sample_rate"`
	DurationS  float64 `json:"duration_s"`
}

// generateHandler streams the canned response word by word as NDJSON
func generateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("🎤 GENERATION REQUEST: request_id=%s file=%s size=%d bytes sample_rate=%s",
		r.FormValue("request_id"), header.Filename, len(audioData), r.FormValue("sample_rate"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	words := strings.Fields(cannedResponse)
	for i, word := range words {
		text := word
		if i < len(words)-1 {
			text += " "
		}
		enc.Encode(tokenEvent{Text: text, TokenID: 1000 + i})
		flusher.Flush()
		time.Sleep(30 * time.Millisecond)
	}
	enc.Encode(tokenEvent{Done: true})
	flusher.Flush()

	log.Printf("✅ GENERATION STREAM SENT: %d tokens", len(words))
}

// synthesizeHandler answers with a base64 WAV sine tone sized to the text
func synthesizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req synthesisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "Text required", http.StatusBadRequest)
		return
	}

	// Roughly 60ms of audio per word keeps mock latency realistic
	wordCount := len(strings.Fields(req.Text))
	durationS := 0.06 * float64(wordCount)
	if durationS < 0.1 {
		durationS = 0.1
	}

	samples := make([]int16, int(durationS*synthesisSampleRate))
	for i := range samples {
		t := float64(i) / synthesisSampleRate
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*t))
	}

	wavData, err := audio.EncodeWAV(samples, synthesisSampleRate)
	if err != nil {
		http.Error(w, "Error encoding audio", http.StatusInternalServerError)
		return
	}

	log.Printf("🔊 SYNTHESIS REQUEST: voice=%s speed=%.2f words=%d duration=%.2fs",
		req.Voice, req.Speed, wordCount, durationS)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(synthesisResponse{
		AudioData:  base64.StdEncoding.EncodeToString(wavData),
		SampleRate: synthesisSampleRate,
		DurationS:  durationS,
	})
}

func main() {
	port := flag.Int("port", 9000, "Listen port")
	flag.Parse()

	http.HandleFunc("/generate", generateHandler)
	http.HandleFunc("/synthesize", synthesizeHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("🚀 Mock model server starting on %s", addr)
	log.Printf("📡 Generation endpoint: http://localhost%s/generate", addr)
	log.Printf("📡 Synthesis endpoint: http://localhost%s/synthesize", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
