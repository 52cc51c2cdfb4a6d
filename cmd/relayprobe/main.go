package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

type options struct {
	baseURL     string
	wavPath     string
	outPath     string
	chunkMS     int
	realtime    float64
	trailing    time.Duration
	quiet       time.Duration
	turnTimeout time.Duration
	turns       int
	upload      bool
	verbose     bool
}

type clientFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
}

// turnResult is what one replayed utterance produced.
type turnResult struct {
	FirstAudio time.Duration
	AudioBytes int
	StopAudio  int
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var trailingMS, quietMS, turnTimeoutMS int

	fs := flag.NewFlagSet("relayprobe", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voicerelay base URL")
	fs.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV file replayed as the caller utterance")
	fs.StringVar(&cfg.outPath, "out", "", "optional path to write the assistant audio as WAV")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&trailingMS, "trailing-silence-ms", 1200, "silence appended after each utterance so server VAD ends the turn")
	fs.IntVar(&quietMS, "quiet-ms", 1500, "assistant audio gap that ends a turn")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for assistant audio per turn")
	fs.IntVar(&cfg.turns, "turns", 1, "number of times the utterance is replayed")
	fs.BoolVar(&cfg.upload, "upload", true, "send UploadTranscript after the last turn")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.wavPath = strings.TrimSpace(cfg.wavPath)
	switch {
	case cfg.baseURL == "":
		return options{}, fmt.Errorf("base-url is required")
	case cfg.wavPath == "":
		return options{}, fmt.Errorf("wav is required")
	case cfg.turns <= 0:
		return options{}, fmt.Errorf("turns must be > 0")
	case cfg.chunkMS < 10 || cfg.chunkMS > 2000:
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	case cfg.realtime <= 0:
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if trailingMS < 0 {
		trailingMS = 0
	}
	if quietMS < 200 {
		quietMS = 200
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.trailing = time.Duration(trailingMS) * time.Millisecond
	cfg.quiet = time.Duration(quietMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	raw, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return fmt.Errorf("read wav: %w", err)
	}
	clip, err := audio.DecodeWAV(raw)
	if err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	clip = clip.Resample(audio.RelaySampleRate)
	clip.PCM = append(clip.PCM, audio.Silence(clip.SampleRate, cfg.trailing.Seconds())...)

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.turns+1)*(cfg.turnTimeout+time.Duration(clip.Duration()*float64(time.Second))))
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	rec := newRecorder()
	readErrCh := make(chan error, 1)
	go readLoop(conn, rec, readErrCh, cfg.verbose)

	if cfg.verbose {
		fmt.Printf("relayprobe: url=%s turns=%d clip=%.2fs chunk_ms=%d realtime=%.2f\n", wsURL, cfg.turns, clip.Duration(), cfg.chunkMS, cfg.realtime)
	}

	var reply []byte
	for i := 0; i < cfg.turns; i++ {
		rec.reset()
		if err := sendUtterance(conn, clip, cfg.chunkMS, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		sentAt := time.Now()
		res, err := awaitReply(rec, readErrCh, sentAt, cfg.quiet, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		reply = append(reply, rec.audio()...)
		fmt.Printf("relayprobe: turn %d/%d first_audio_ms=%d audio_bytes=%d barge_ins=%d\n",
			i+1, cfg.turns, res.FirstAudio.Milliseconds(), res.AudioBytes, res.StopAudio)
	}

	if cfg.upload {
		ack, err := uploadTranscript(conn, rec, readErrCh, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("upload transcript: %w", err)
		}
		fmt.Printf("relayprobe: transcript upload session=%s success=%t detail=%q\n", ack.SessionID, ack.Success, ack.Detail)
	}

	if cfg.outPath != "" {
		if err := audio.WriteWAVFile(cfg.outPath, audio.Clip{PCM: reply, SampleRate: audio.RelaySampleRate}); err != nil {
			return fmt.Errorf("write reply audio: %w", err)
		}
	}

	summary, err := fetchLatency(ctx, cfg.baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: latency summary unavailable: %v\n", err)
	} else {
		fmt.Printf("relayprobe: latency %s\n", summary)
	}

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/web/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// recorder collects what the read loop observed since the last reset.
type recorder struct {
	mu        sync.Mutex
	pcm       []byte
	firstAt   time.Time
	lastAt    time.Time
	stopAudio int
	acks      chan clientFrame
}

func newRecorder() *recorder {
	return &recorder{acks: make(chan clientFrame, 4)}
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pcm = nil
	r.firstAt = time.Time{}
	r.lastAt = time.Time{}
	r.stopAudio = 0
}

func (r *recorder) addAudio(b []byte, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstAt.IsZero() {
		r.firstAt = at
	}
	r.lastAt = at
	r.pcm = append(r.pcm, b...)
}

func (r *recorder) addStop() {
	r.mu.Lock()
	r.stopAudio++
	r.mu.Unlock()
}

func (r *recorder) audio() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.pcm...)
}

func (r *recorder) snapshot() (first, last time.Time, n, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstAt, r.lastAt, len(r.pcm), r.stopAudio
}

func readLoop(conn *websocket.Conn, rec *recorder, readErrCh chan<- error, verbose bool) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		if kind == websocket.BinaryMessage {
			rec.addAudio(data, time.Now())
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch protocol.ClientFrameType(frame.Type) {
		case protocol.TypeStopAudio:
			rec.addStop()
			if verbose {
				fmt.Println("relayprobe: StopAudio")
			}
		case protocol.TypeTranscriptUploaded:
			select {
			case rec.acks <- frame:
			default:
			}
		}
	}
}

// chunkBytes returns the even byte length of one chunkMS slice at rate.
func chunkBytes(rate, chunkMS int) int {
	n := rate * 2 * chunkMS / 1000
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}
	return n
}

// chunkDelay is the pacing interval for a chunk of n bytes.
func chunkDelay(n, rate int, realtime float64) time.Duration {
	d := time.Duration(float64(time.Duration(n)*time.Second/time.Duration(rate*2)) / realtime)
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	return d
}

func sendUtterance(conn *websocket.Conn, clip audio.Clip, chunkMS int, realtime float64) error {
	if len(clip.PCM) < 2 {
		return fmt.Errorf("clip has no samples")
	}
	step := chunkBytes(clip.SampleRate, chunkMS)
	for off := 0; off < len(clip.PCM); {
		end := min(off+step, len(clip.PCM))
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, clip.PCM[off:end]); err != nil {
			return err
		}
		time.Sleep(chunkDelay(end-off, clip.SampleRate, realtime))
		off = end
	}
	return nil
}

func awaitReply(rec *recorder, readErrCh <-chan error, sentAt time.Time, quiet, timeout time.Duration) (turnResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case err := <-readErrCh:
			return turnResult{}, fmt.Errorf("ws read: %w", err)
		case <-deadline.C:
			first, _, n, stops := rec.snapshot()
			if first.IsZero() {
				return turnResult{}, fmt.Errorf("no assistant audio after %s", timeout)
			}
			return turnResult{FirstAudio: latencyFrom(sentAt, first), AudioBytes: n, StopAudio: stops}, nil
		case now := <-tick.C:
			first, last, n, stops := rec.snapshot()
			if !first.IsZero() && now.Sub(last) >= quiet {
				return turnResult{FirstAudio: latencyFrom(sentAt, first), AudioBytes: n, StopAudio: stops}, nil
			}
		}
	}
}

// latencyFrom measures first audio against the end of the streamed clip.
// Replies that begin while the clip is still streaming report zero.
func latencyFrom(sentAt, first time.Time) time.Duration {
	if first.Before(sentAt) {
		return 0
	}
	return first.Sub(sentAt)
}

func uploadTranscript(conn *websocket.Conn, rec *recorder, readErrCh <-chan error, timeout time.Duration) (clientFrame, error) {
	if err := conn.WriteJSON(protocol.UploadTranscript{Kind: protocol.KindUploadTranscript}); err != nil {
		return clientFrame{}, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack := <-rec.acks:
		return ack, nil
	case err := <-readErrCh:
		return clientFrame{}, err
	case <-timer.C:
		return clientFrame{}, errors.New("timed out waiting for TranscriptUploaded")
	}
}

func fetchLatency(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return strings.TrimSpace(string(body)), nil
}
