package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

const (
	maxWorkerLine   = 64 << 20
	workerStopGrace = 2 * time.Second
)

// execModel keeps the neural model loaded in one long-lived worker process.
// For each request the worker reads one JSON sentence per line on stdin
// followed by an end marker, and answers with one JSON segment per line
// followed by a done marker. Requests are serialized on mu. A worker that
// fails or is abandoned mid-request is stopped and restarted on the next
// request.
type execModel struct {
	cmd []string

	mu     sync.Mutex
	worker *execWorker
}

type execWorker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines *bufio.Scanner
}

type execRequest struct {
	Text  string `json:"text,omitempty"`
	Voice string `json:"voice,omitempty"`
	End   bool   `json:"end,omitempty"`
}

type execResponse struct {
	SamplingRate int    `json:"sampling_rate"`
	AudioBase64  string `json:"audio_base64"`
	Error        string `json:"error,omitempty"`
	Done         bool   `json:"done,omitempty"`
}

// NewExecModel parses command and appends the model id and precision flags.
// The worker starts with the first request.
func NewExecModel(command, model string, precision Precision) (Model, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse model command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("model command empty")
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if precision != "" {
		args = append(args, "--dtype", string(precision))
	}
	return &execModel{cmd: args}, nil
}

// ensureWorker returns the running worker, starting one if needed. Callers
// hold mu.
func (e *execModel) ensureWorker() (*execWorker, error) {
	if e.worker != nil {
		return e.worker, nil
	}
	cmd := exec.Command(e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model worker: %w", err)
	}
	lines := bufio.NewScanner(stdout)
	lines.Buffer(make([]byte, 0, 64*1024), maxWorkerLine)
	e.worker = &execWorker{cmd: cmd, stdin: stdin, lines: lines}
	return e.worker, nil
}

// discard kills the current worker. Callers hold mu.
func (e *execModel) discard() {
	if e.worker == nil {
		return
	}
	_ = e.worker.cmd.Process.Kill()
	_ = e.worker.stdin.Close()
	_ = e.worker.cmd.Wait()
	e.worker = nil
}

func (e *execModel) Stream(ctx context.Context, splitter *TextSplitter, voice string) (*SegmentStream, error) {
	e.mu.Lock()

	var (
		started  bool
		finished bool
		worker   *execWorker
		writeErr chan error
		stop     func() bool
	)

	start := func() error {
		sentences, err := splitter.Sentences(ctx)
		if err != nil {
			return err
		}
		if len(sentences) == 0 {
			finished = true
			return nil
		}
		worker, err = e.ensureWorker()
		if err != nil {
			return err
		}
		w := worker
		stop = context.AfterFunc(ctx, func() { _ = w.cmd.Process.Kill() })

		writeErr = make(chan error, 1)
		go func() {
			enc := json.NewEncoder(w.stdin)
			for _, sentence := range sentences {
				if err := enc.Encode(execRequest{Text: sentence, Voice: voice}); err != nil {
					writeErr <- err
					return
				}
			}
			writeErr <- enc.Encode(execRequest{End: true})
		}()
		return nil
	}

	next := func() (Segment, error) {
		if !started {
			started = true
			if err := start(); err != nil {
				return Segment{}, err
			}
		}
		if finished {
			return Segment{}, io.EOF
		}
		for worker.lines.Scan() {
			line := worker.lines.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				return Segment{}, fmt.Errorf("decode worker output: %w", err)
			}
			if resp.Error != "" {
				return Segment{}, fmt.Errorf("model worker: %s", resp.Error)
			}
			if resp.Done {
				if err := <-writeErr; err != nil {
					return Segment{}, fmt.Errorf("write worker input: %w", err)
				}
				finished = true
				return Segment{}, io.EOF
			}
			samples, err := decodeFloat32(resp.AudioBase64)
			if err != nil {
				return Segment{}, err
			}
			return Segment{Samples: samples, SamplingRate: resp.SamplingRate}, nil
		}
		if err := ctx.Err(); err != nil {
			return Segment{}, err
		}
		if err := worker.lines.Err(); err != nil {
			return Segment{}, fmt.Errorf("read worker output: %w", err)
		}
		return Segment{}, errors.New("model worker exited mid-request")
	}

	release := func() error {
		defer e.mu.Unlock()
		cancelled := stop != nil && !stop()
		if worker != nil && (!finished || cancelled) {
			e.discard()
		}
		return nil
	}

	return NewSegmentStream(next, release), nil
}

// Close asks the worker to exit by closing its input and kills it if it
// does not within workerStopGrace.
func (e *execModel) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.worker == nil {
		return nil
	}
	w := e.worker
	e.worker = nil
	_ = w.stdin.Close()

	exited := make(chan error, 1)
	go func() { exited <- w.cmd.Wait() }()
	select {
	case <-exited:
	case <-time.After(workerStopGrace):
		_ = w.cmd.Process.Kill()
		<-exited
	}
	return nil
}

// decodeFloat32 decodes base64 little-endian float32 samples.
func decodeFloat32(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("decode audio: %d bytes is not a whole number of samples", len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
