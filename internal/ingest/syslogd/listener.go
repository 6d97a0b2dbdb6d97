// Package syslogd accepts RFC 5424 syslog messages over UDP and TCP,
// parses them into structured dicts, and schedules a correlation task
// per message.
//
// Correlation is fire-and-forget here: the transport offers no
// acknowledgement to give back, so a permanently failing message is
// dropped by the task runner with a logged verdict rather than held.
package syslogd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"meniscus/internal/correlation"
	"meniscus/internal/logging"
	"meniscus/internal/metrics"
	"meniscus/internal/task"
)

// Config holds listener configuration.
type Config struct {
	// UDPAddr is the UDP address to listen on (e.g. ":5140"). Empty
	// disables UDP.
	UDPAddr string

	// TCPAddr is the TCP address to listen on. Empty disables TCP.
	TCPAddr string

	Runner  *task.Runner
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Listener accepts syslog traffic on UDP and/or TCP.
type Listener struct {
	udpAddr string
	tcpAddr string
	runner  *task.Runner
	parser  *parser
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	udpConn     *net.UDPConn
	tcpListener net.Listener
}

// New creates a syslog listener.
func New(cfg Config) *Listener {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Listener{
		udpAddr: cfg.UDPAddr,
		tcpAddr: cfg.TCPAddr,
		runner:  cfg.Runner,
		parser:  newParser(),
		logger:  logging.Default(cfg.Logger).With("component", "ingester", "type", "syslog"),
		metrics: m,
	}
}

// Run starts the configured listeners and blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if l.udpAddr == "" && l.tcpAddr == "" {
		return errors.New("syslog listener: no UDP or TCP address configured")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if l.udpAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.runUDP(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	if l.tcpAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.runTCP(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		l.logger.Info("syslog listener stopping")
		l.shutdown()
		wg.Wait()
		return nil
	case err := <-errCh:
		l.logger.Info("syslog listener stopping", "error", err)
		l.shutdown()
		wg.Wait()
		return err
	}
}

func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.udpConn != nil {
		_ = l.udpConn.Close()
		l.udpConn = nil
	}
	if l.tcpListener != nil {
		_ = l.tcpListener.Close()
		l.tcpListener = nil
	}
}

// dispatch parses one wire message and schedules its correlation task.
func (l *Listener) dispatch(ctx context.Context, data []byte) {
	raw := l.parser.parse(data)
	if raw == nil {
		l.logger.Debug("unparseable syslog message dropped", "bytes", len(data))
		return
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		l.logger.Debug("unserializable syslog message dropped", "error", err)
		return
	}
	l.metrics.Ingested.WithLabelValues("syslog").Inc()
	l.runner.Go(ctx, correlation.TaskSyslog, payload)
}

func (l *Listener) runUDP(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.udpAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.udpConn = conn
	l.mu.Unlock()

	l.logger.Info("syslog UDP listener starting", "addr", conn.LocalAddr().String())

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Read deadline so the loop can observe cancellation.
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))

		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Warn("UDP read error", "error", err)
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.dispatch(ctx, data)
	}
}

func (l *Listener) runTCP(ctx context.Context) error {
	listener, err := net.Listen("tcp", l.tcpAddr)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.tcpListener = listener
	l.mu.Unlock()

	l.logger.Info("syslog TCP listener starting", "addr", listener.Addr().String())

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		default:
		}

		_ = listener.(*net.TCPListener).SetDeadline(time.Now().Add(time.Second))

		conn, err := listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return nil
			}
			l.logger.Warn("TCP accept error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = conn.Close() }()
			l.handleConn(ctx, conn)
		}()
	}
}

// handleConn reads newline-delimited messages off one connection.
func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil &&
				!errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !isTimeout(err) {
				l.logger.Debug("TCP read error", "error", err)
			}
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		l.dispatch(ctx, data)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
