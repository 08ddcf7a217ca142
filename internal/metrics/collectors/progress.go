// Package collectors feeds metrics from encoder progress reports and
// Rockchip MPP load files.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/livenode/internal/logging"
	"github.com/smazurov/livenode/internal/metrics"
)

// ProgressCollector receives FFmpeg -progress reports on a unix socket.
type ProgressCollector struct {
	logger     logging.Logger
	socketPath string
	encoder    string

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProgressCollector creates a collector for one encoder process.
func NewProgressCollector(socketPath, encoder string, logger logging.Logger) *ProgressCollector {
	return &ProgressCollector{
		logger:     logger,
		socketPath: socketPath,
		encoder:    encoder,
	}
}

// Start listens on the socket, replacing a stale socket file.
func (p *ProgressCollector) Start(ctx context.Context) error {
	if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("Failed to clean up old socket file", "socket", p.socketPath, "error", err)
	}
	listener, err := net.Listen("unix", p.socketPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.listener = listener
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		<-ctx.Done()
		_ = listener.Close()
	}()
	go p.accept(ctx, listener)
	p.logger.Debug("Progress socket listening", "socket", p.socketPath)
	return nil
}

// Stop closes the socket and removes the encoder's metrics.
func (p *ProgressCollector) Stop() error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
		_ = os.Remove(p.socketPath)
		metrics.DeleteEncoderMetrics(p.encoder)
	})
	return nil
}

func (p *ProgressCollector) accept(ctx context.Context, listener net.Listener) {
	defer p.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("Error accepting progress connection", "error", err)
			continue
		}
		p.wg.Add(1)
		go p.handleConnection(ctx, conn)
	}
}

func (p *ProgressCollector) handleConnection(ctx context.Context, conn net.Conn) {
	defer p.wg.Done()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	report := make(map[string]string)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		report[key] = strings.TrimSpace(value)

		if key == "progress" {
			p.record(report)
			report = make(map[string]string)
		}
	}
}

func (p *ProgressCollector) record(data map[string]string) {
	if fps, err := strconv.ParseFloat(data["fps"], 64); err == nil {
		metrics.SetEncoderFPS(p.encoder, fps)
	}
	if dropped, err := strconv.ParseFloat(data["drop_frames"], 64); err == nil {
		metrics.SetEncoderDroppedFrames(p.encoder, dropped)
	}
	if dup, err := strconv.ParseFloat(data["dup_frames"], 64); err == nil {
		metrics.SetEncoderDuplicateFrames(p.encoder, dup)
	}
	speed := strings.TrimSpace(strings.TrimSuffix(data["speed"], "x"))
	if v, err := strconv.ParseFloat(speed, 64); err == nil {
		metrics.SetEncoderSpeed(p.encoder, v)
	}
}
