// Package uci drives one external UCI engine process per game.
package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/squirebot/squire/internal/obslog"
)

const (
	handshakeTimeout = 4 * time.Second
	readyProbes      = 3
	readyProbeDelay  = 200 * time.Millisecond

	searchOverhead    = 2 * time.Second
	perDepthAllowance = 400 * time.Millisecond
	minSearchWindow   = 5 * time.Second
	maxSearchWindow   = 25 * time.Second
)

var (
	ErrTimeout = errors.New("uci: search timed out")
	ErrNoMove  = errors.New("uci: engine returned no move")
	ErrClosed  = errors.New("uci: engine closed")
)

type Options struct {
	Threads int
	HashMB  int
}

type Limits struct {
	Depth          int
	MoveTimeMillis int
}

type SearchRequest struct {
	FEN    string // empty means the standard starting position
	Moves  []string
	Limits Limits
}

type SearchResponse struct {
	BestMove string
	ScoreCP  int // centipawns from the engine's view; mate mapped to ±30000
}

// Engine is the channel to one game's engine process. The process starts
// on the first Search and is replaced after a timeout or protocol failure.
// Never share an Engine between games: search state is single-position.
type Engine struct {
	path string
	opt  Options
	log  *zap.Logger

	searchMu sync.Mutex // one search at a time

	mu     sync.Mutex // guards proc and closed
	proc   *process
	closed bool
}

func New(path string, opt Options) *Engine {
	if opt.HashMB <= 0 {
		opt.HashMB = 128
	}
	if opt.Threads <= 0 {
		opt.Threads = runtime.NumCPU()
	}
	return &Engine{path: path, opt: opt, log: obslog.L()}
}

// SetLogger routes engine lifecycle entries to a game's own logger.
func (e *Engine) SetLogger(l *zap.Logger) {
	if l != nil {
		e.log = l
	}
}

// CheckBinary verifies the engine executable exists before any game needs
// it, so a bad path fails the process at startup instead of mid-game.
func CheckBinary(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("engine binary %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("engine binary %s is a directory", path)
	}
	return nil
}

// Search sends the position and blocks until the engine answers or the
// budget-derived deadline expires. On timeout the process is killed and
// ErrTimeout returned; the next call spawns a fresh process.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	p, err := e.ensureProcess(ctx)
	if err != nil {
		return SearchResponse{}, err
	}

	goTokens, err := buildGoTokens(req.Limits)
	if err != nil {
		return SearchResponse{}, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchDeadline(req.Limits))
	defer cancel()

	if err := p.send(buildPositionCommand(req.FEN, req.Moves)); err != nil {
		e.discard(p)
		return SearchResponse{}, fmt.Errorf("send position: %w", err)
	}
	if err := p.send(strings.Join(goTokens, " ") + "\n"); err != nil {
		e.discard(p)
		return SearchResponse{}, fmt.Errorf("send go: %w", err)
	}

	var score int
	for {
		line, err := p.recvLine(searchCtx)
		if err != nil {
			e.discard(p)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				e.log.Warn("engine_search_timeout",
					zap.Int("movetime_ms", req.Limits.MoveTimeMillis),
					zap.Int("depth", req.Limits.Depth))
				return SearchResponse{}, ErrTimeout
			}
			return SearchResponse{}, fmt.Errorf("read engine: %w", err)
		}
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "info "):
			if cp, ok := parseScore(line); ok {
				score = cp
			}
		case strings.HasPrefix(line, "bestmove"):
			parts := strings.Fields(line)
			if len(parts) < 2 || parts[1] == "(none)" {
				return SearchResponse{}, ErrNoMove
			}
			return SearchResponse{BestMove: parts[1], ScoreCP: score}, nil
		}
	}
}

// Close terminates the engine process. Safe to call more than once and
// concurrently with an in-flight Search, which then fails fast.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.proc != nil {
		e.proc.kill()
		e.proc = nil
	}
	return nil
}

func (e *Engine) ensureProcess(ctx context.Context) (*process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.proc != nil {
		return e.proc, nil
	}

	p, err := spawn(e.path)
	if err != nil {
		return nil, err
	}
	if err := p.initialize(ctx, e.opt); err != nil {
		p.kill()
		return nil, err
	}
	e.log.Info("engine_started", zap.String("path", e.path), zap.Int("threads", e.opt.Threads))
	e.proc = p
	return p, nil
}

// discard drops a broken process so the next Search starts over.
func (e *Engine) discard(p *process) {
	p.kill()
	e.mu.Lock()
	if e.proc == p {
		e.proc = nil
	}
	e.mu.Unlock()
}

type readout struct {
	text string
	err  error
}

type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan readout
	done    chan struct{}
	writeMu sync.Mutex
	killMu  sync.Mutex
	killed  bool
}

func spawn(path string) (*process, error) {
	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	p := &process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan readout, 32),
		done:  make(chan struct{}),
	}
	go p.pump(bufio.NewReader(stdoutPipe))
	return p, nil
}

// pump is the single reader of the engine's stdout. It runs until the
// pipe closes or the process is killed, so line reads never race.
func (p *process) pump(r *bufio.Reader) {
	defer close(p.lines)
	for {
		text, err := r.ReadString('\n')
		select {
		case p.lines <- readout{text: text, err: err}:
		case <-p.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *process) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := p.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := p.expect(initCtx, "uciok"); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	for _, line := range []string{
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		fmt.Sprintf("setoption name Threads value %d\n", opt.Threads),
		"setoption name MultiPV value 1\n",
		"setoption name Move Overhead value 120\n",
	} {
		if err := p.send(line); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}

	return p.newGame(ctx)
}

// newGame resets the search state. Some engines need a moment after
// ucinewgame before they answer isready, hence the probe loop.
func (p *process) newGame(ctx context.Context) error {
	if err := p.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}
	var err error
	for tries := readyProbes; tries > 0; tries-- {
		if err = p.ensureReady(ctx); err == nil {
			return nil
		}
		if tries > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readyProbeDelay):
			}
		}
	}
	return err
}

func (p *process) ensureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	if err := p.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.expect(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("readyok: %w", err)
	}
	return nil
}

func (p *process) send(msg string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := io.WriteString(p.stdin, msg)
	return err
}

// expect drains output until a line starting with token arrives.
func (p *process) expect(ctx context.Context, token string) error {
	for {
		line, err := p.recvLine(ctx)
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, token) {
			return nil
		}
	}
}

func (p *process) recvLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case out, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(out.text), out.err
	}
}

func (p *process) kill() {
	p.killMu.Lock()
	defer p.killMu.Unlock()
	if p.killed {
		return
	}
	p.killed = true
	close(p.done)
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	if p.cmd != nil {
		_ = p.cmd.Wait()
	}
}

func buildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(fen)
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	sb.WriteString("\n")
	return sb.String()
}

func buildGoTokens(l Limits) ([]string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if len(args) == 1 {
		return nil, errors.New("uci: search limits empty")
	}
	return args, nil
}

// searchDeadline is how long Search waits before declaring the process
// stuck: double the movetime budget plus protocol overhead, or for
// depth-only searches a flat per-ply allowance.
func searchDeadline(l Limits) time.Duration {
	if l.MoveTimeMillis > 0 {
		return 2*time.Duration(l.MoveTimeMillis)*time.Millisecond + searchOverhead
	}
	window := time.Duration(l.Depth) * perDepthAllowance
	if window < minSearchWindow {
		window = minSearchWindow
	}
	if window > maxSearchWindow {
		window = maxSearchWindow
	}
	return window
}

func parseScore(line string) (int, bool) {
	parts := strings.Fields(line)
	for i := 0; i < len(parts)-2; i++ {
		if parts[i] != "score" {
			continue
		}
		val, err := strconv.Atoi(parts[i+2])
		if err != nil {
			return 0, false
		}
		switch parts[i+1] {
		case "cp":
			return val, true
		case "mate":
			const mateValue = 30000
			if val >= 0 {
				return mateValue, true
			}
			return -mateValue, true
		}
	}
	return 0, false
}
