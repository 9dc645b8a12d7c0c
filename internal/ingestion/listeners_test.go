package ingestion

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/parsing"
)

type collectSink struct {
	mu      sync.Mutex
	records []*models.Record
	err     error
}

func (s *collectSink) Ingest(ctx context.Context, r *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *collectSink) wait(t *testing.T, n int) []*models.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.records) >= n {
			out := append([]*models.Record(nil), s.records...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records", n)
	return nil
}

func TestParseSyslog(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)

	t.Run("RFC5424", func(t *testing.T) {
		r := ParseSyslog(`<165>1 2025-01-02T03:04:05Z host1 billing 123 ID47 - charge declined`, now)
		if r.Level != models.LevelInfo || r.Source != "billing" || r.Message != "charge declined" {
			t.Errorf("record = %+v", r)
		}
		if !r.Timestamp.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
			t.Errorf("Timestamp = %v", r.Timestamp)
		}
		if r.Data["facility"] != "local4" || r.Data["hostname"] != "host1" || r.Data["format"] != "RFC5424" {
			t.Errorf("Data = %v", r.Data)
		}
	})

	t.Run("RFC3164", func(t *testing.T) {
		r := ParseSyslog(`<34>Oct 11 22:14:15 mymachine su[230]: 'su root' failed on /dev/pts/8`, now)
		if r.Level != models.LevelError || r.Source != "su" {
			t.Errorf("record = %+v", r)
		}
		if r.Message != "'su root' failed on /dev/pts/8" {
			t.Errorf("Message = %q", r.Message)
		}
		want := time.Date(2025, 10, 11, 22, 14, 15, 0, time.Local)
		if !r.Timestamp.Equal(want) {
			t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
		}
		if r.Data["pid"] != "230" || r.Data["facility"] != "security" {
			t.Errorf("Data = %v", r.Data)
		}
	})

	t.Run("severities", func(t *testing.T) {
		tests := map[string]string{
			"<8>Jan  1 00:00:00 h app: x":  models.LevelFatal,
			"<11>Jan  1 00:00:00 h app: x": models.LevelError,
			"<12>Jan  1 00:00:00 h app: x": models.LevelWarn,
			"<15>Jan  1 00:00:00 h app: x": models.LevelDebug,
		}
		for line, want := range tests {
			if got := ParseSyslog(line, now).Level; got != want {
				t.Errorf("%q level = %q, want %q", line, got, want)
			}
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		r := ParseSyslog("just some text", now)
		if r.Level != models.LevelInfo || r.Message != "just some text" || r.Source != "syslog" {
			t.Errorf("record = %+v", r)
		}
	})
}

func TestTCPServer(t *testing.T) {
	sink := &collectSink{}
	srv := NewTCPServer("127.0.0.1:0", parsing.NewManager(), sink)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte("[ERROR] payment failed\n\n{\"message\":\"json line\"}\n")); err != nil {
		t.Fatal(err)
	}
	reader := bufio.NewReader(conn)
	for i := 0; i < 2; i++ {
		ack, err := reader.ReadString('\n')
		if err != nil || ack != "OK\n" {
			t.Fatalf("ack = %q, err = %v", ack, err)
		}
	}

	records := sink.wait(t, 2)
	if records[0].Message != "payment failed" || records[0].Level != models.LevelError {
		t.Errorf("first record = %+v", records[0])
	}
	if records[0].Source != "127.0.0.1" {
		t.Errorf("Source = %q", records[0].Source)
	}
	if records[1].Message != "json line" {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestTCPServer_StopClosesIdleConnections(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", parsing.NewManager(), &collectSink{})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// give the server a moment to register the connection
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}
}

func TestStopTwice(t *testing.T) {
	tcp := NewTCPServer("127.0.0.1:0", parsing.NewManager(), &collectSink{})
	if err := tcp.Start(); err != nil {
		t.Fatal(err)
	}
	if err := tcp.Stop(); err != nil {
		t.Errorf("tcp Stop: %v", err)
	}
	if err := tcp.Stop(); err != nil {
		t.Errorf("second tcp Stop: %v", err)
	}

	syslog := NewSyslogServer("127.0.0.1:0", parsing.NewDefaultRuleSet(), &collectSink{})
	if err := syslog.Start(); err != nil {
		t.Fatal(err)
	}
	if err := syslog.Stop(); err != nil {
		t.Errorf("syslog Stop: %v", err)
	}
	if err := syslog.Stop(); err != nil {
		t.Errorf("second syslog Stop: %v", err)
	}
}

func TestTCPServer_IngestError(t *testing.T) {
	srv := NewTCPServer("127.0.0.1:0", parsing.NewManager(), &collectSink{err: errors.New("down")})
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	conn.Write([]byte("hello\n"))

	ack, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || ack != "ERR\n" {
		t.Fatalf("ack = %q, err = %v", ack, err)
	}
}

func TestSyslogServer(t *testing.T) {
	sink := &collectSink{}
	srv := NewSyslogServer("127.0.0.1:0", parsing.NewDefaultRuleSet(), sink)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("<11>Jan  5 10:00:00 web01 nginx[99]: upstream database timeout\n")); err != nil {
		t.Fatal(err)
	}

	r := sink.wait(t, 1)[0]
	if r.ID == "" || r.Environment != models.EnvProduction {
		t.Errorf("record = %+v", r)
	}
	if r.Level != models.LevelError || r.Category != models.CategoryError || r.Source != "nginx" {
		t.Errorf("record = %+v", r)
	}
	if _, ok := r.Data["source_addr"]; !ok {
		t.Errorf("Data = %v", r.Data)
	}
}
