package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/streamwell/rtmp-probe/internal/diagnostics"
	"github.com/streamwell/rtmp-probe/internal/logger"
	"github.com/streamwell/rtmp-probe/internal/metrics"
	"github.com/streamwell/rtmp-probe/internal/middleware"
	"github.com/streamwell/rtmp-probe/internal/pool"
	"github.com/streamwell/rtmp-probe/internal/rtmp"
)

// Server accepts RTMP publishers and runs one Session per connection.
type Server struct {
	ListenAddr     string
	ReadBuf        int
	WriteBuf       int
	IdleTimeout    time.Duration
	Log            *logger.Logger
	RateLimit      *middleware.RateLimiter
	ConnLimit      *middleware.ConnectionLimiter
	BufPool        *pool.BytePool
	Registry       *Registry
	WindowAckSize  uint32
	ServiceProfile diagnostics.ServiceProfile
}

func sessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Run accepts connections until ctx is cancelled, running each one on
// its own goroutine. It returns once every in-flight session has
// finished its current event.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer l.Close()

	s.Log.Info("listening", "addr", s.ListenAddr)

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.Log.Error("accept", "err", err)
			continue
		}
		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			if err := s.handle(ctx, c); err != nil {
				s.Log.Error("session ended", "err", err)
			}
		}(conn)
	}

	wg.Wait()
	return ctx.Err()
}

// handle drives one connection's handshake and then its cooperative
// read/tick loop per §5's concurrency model: a blocking socket read
// races a 1Hz ticker, and whichever readies first runs to completion
// before the other is reconsidered.
func (s *Server) handle(ctx context.Context, conn net.Conn) (err error) {
	defer conn.Close()

	id := sessionID()
	start := time.Now()
	clientIP := extractIP(conn.RemoteAddr().String())
	log := s.Log.With("session", id, "client_ip", clientIP)

	metrics.RecordSessionStart()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.RecordSessionEnd(status, time.Since(start).Seconds())
		s.Registry.Release(id)
	}()

	if s.RateLimit != nil {
		if rlErr := s.RateLimit.Allow(clientIP); rlErr != nil {
			metrics.RecordRateLimitRejection()
			log.Warn("rate limit denied", "err", rlErr)
			return rlErr
		}
	}
	if s.ConnLimit != nil {
		if clErr := s.ConnLimit.Acquire(clientIP); clErr != nil {
			metrics.RecordConnectionLimitRejection()
			log.Warn("connection limit denied", "err", clErr)
			return clErr
		}
		defer s.ConnLimit.Release(clientIP)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		if s.ReadBuf > 0 {
			_ = tcp.SetReadBuffer(s.ReadBuf)
		}
		if s.WriteBuf > 0 {
			_ = tcp.SetWriteBuffer(s.WriteBuf)
		}
	}

	conn = wrapIdleConn(conn, s.IdleTimeout)

	leftover, err := rtmp.ServerHandshake(conn, conn, nil)
	if err != nil {
		log.Warn("handshake failed", "err", err)
		return fmt.Errorf("handshake: %w", err)
	}
	log.Info("handshake complete")

	sess := NewSession(leftover, s.WindowAckSize, s.ServiceProfile)

	buf := s.readBuffer()
	defer s.putReadBuffer(buf)

	reads := make(chan readResult, 1)
	go readLoop(conn, buf, reads)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case res, ok := <-reads:
			if !ok {
				return nil
			}
			if res.err != nil {
				if errors.Is(res.err, errConnClosed) {
					log.Info("connection closed")
					return nil
				}
				return res.err
			}
			metrics.RecordBytesRead(res.n)

			outbound, hErr := sess.HandleChunk(res.data)
			if len(outbound) > 0 {
				if _, wErr := conn.Write(outbound); wErr != nil {
					return fmt.Errorf("write response: %w", wErr)
				}
			}
			if hErr != nil {
				return fmt.Errorf("handle message: %w", hErr)
			}
			if sess.Ended() {
				log.Info("stream ended", "app", sess.App(), "stream_key", sess.StreamKey())
				return nil
			}

			go readLoop(conn, buf, reads)

		case now := <-ticker.C:
			snap := sess.Snapshot(now)
			s.Registry.Publish(id, snap)
			metrics.SetDiagnosticsCounts(snap.ErrorCount, snap.WarningCount, len(snap.Diagnostics)-snap.ErrorCount-snap.WarningCount)
		}
	}
}

func (s *Server) readBuffer() []byte {
	if s.BufPool != nil {
		return s.BufPool.Get()
	}
	return make([]byte, 64*1024)
}

func (s *Server) putReadBuffer(buf []byte) {
	if s.BufPool != nil {
		s.BufPool.Put(buf)
	}
}

type readResult struct {
	data []byte
	n    int
	err  error
}

var errConnClosed = errors.New("connection closed")

// readLoop performs exactly one blocking Read and reports it on res,
// feeding the cooperative two-point suspension loop in handle: each
// iteration spawns a fresh readLoop so the next socket read races the
// next ticker tick, rather than a single goroutine looping forever
// out of handle's control.
func readLoop(conn net.Conn, buf []byte, res chan<- readResult) {
	n, err := conn.Read(buf)
	if err != nil {
		res <- readResult{err: wrapReadErr(err)}
		return
	}
	res <- readResult{data: buf[:n], n: n}
}

func wrapReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return errConnClosed
	}
	return err
}

// wrapIdleConn returns conn wrapped so every Read/Write refreshes a
// deadline idle in the future, closing the connection if a publisher
// goes silent mid-stream. A non-positive idle disables the wrapper.
func wrapIdleConn(conn net.Conn, idle time.Duration) net.Conn {
	if conn == nil || idle <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, idle: idle}
}

type idleConn struct {
	net.Conn
	idle time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.idle))
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(c.idle))
	return c.Conn.Write(p)
}

func extractIP(remoteAddr string) string {
	if remoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	return remoteAddr
}
