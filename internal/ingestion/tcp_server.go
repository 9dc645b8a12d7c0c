package ingestion

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/parsing"
)

// Ingester is implemented by Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, r *models.Record) error
}

// TCPServer accepts newline-delimited log lines. Each line goes through the
// same parser as tailed files, with the client host as the source.
type TCPServer struct {
	addr     string
	parser   *parsing.Manager
	sink     Ingester
	listener net.Listener
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewTCPServer creates a new TCP ingestion server
func NewTCPServer(addr string, parser *parsing.Manager, sink Ingester) *TCPServer {
	return &TCPServer{
		addr:     addr,
		parser:   parser,
		sink:     sink,
		stopChan: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	log.Info().Str("addr", listener.Addr().String()).Msg("TCP log ingestion server started")

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				log.Error().Err(err).Msg("Failed to accept TCP connection")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	clientAddr := conn.RemoteAddr().String()
	source, _, err := net.SplitHostPort(clientAddr)
	if err != nil {
		source = clientAddr
	}
	log.Info().Str("client", clientAddr).Msg("New TCP client connected")

	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*64), 1024*1024) // 64KB buffer, 1MB max

	ctx := context.Background()
	for scanner.Scan() {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))

		select {
		case <-s.stopChan:
			return
		default:
		}

		result := s.parser.Parse(scanner.Text(), source)
		if !result.Success {
			continue
		}
		if err := s.sink.Ingest(ctx, result.Record); err != nil {
			log.Error().Err(err).Str("client", clientAddr).Msg("Failed to ingest TCP line")
			conn.Write([]byte("ERR\n"))
			continue
		}
		conn.Write([]byte("OK\n"))
	}

	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Str("client", clientAddr).Msg("Error reading from TCP client")
	}

	log.Info().Str("client", clientAddr).Msg("TCP client disconnected")
}

// Stop closes the listener and every open connection, then waits for the
// handlers to return. It is safe to call more than once.
func (s *TCPServer) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
