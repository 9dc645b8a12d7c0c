package ingestion

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/parsing"
)

// Syslog severity names, indexed by severity code
var severityLevels = [8]string{
	"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug",
}

var facilityNames = map[int]string{
	0:  "kernel",
	1:  "user",
	2:  "mail",
	3:  "system",
	4:  "security",
	5:  "syslogd",
	6:  "line-printer",
	7:  "network-news",
	8:  "uucp",
	9:  "clock",
	10: "security2",
	11: "ftp",
	12: "ntp",
	13: "log-audit",
	14: "log-alert",
	15: "clock2",
	16: "local0",
	17: "local1",
	18: "local2",
	19: "local3",
	20: "local4",
	21: "local5",
	22: "local6",
	23: "local7",
}

var (
	// <priority>version timestamp hostname app-name procid msgid [structured-data] msg
	rfc5424 = regexp.MustCompile(`^<(\d+)>(\d+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\[.*?\]|-)\s*(.*)$`)
	// <priority>timestamp hostname tag[pid]: message
	rfc3164 = regexp.MustCompile(`^<(\d+)>(\w+\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(\S+?)(\[(\d+)\])?:\s*(.*)$`)
)

// SyslogServer receives RFC3164 and RFC5424 datagrams over UDP.
type SyslogServer struct {
	addr     string
	rules    *parsing.RuleSet
	sink     Ingester
	conn     net.PacketConn
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSyslogServer creates a new Syslog ingestion server
func NewSyslogServer(addr string, rules *parsing.RuleSet, sink Ingester) *SyslogServer {
	return &SyslogServer{
		addr:     addr,
		rules:    rules,
		sink:     sink,
		stopChan: make(chan struct{}),
	}
}

// Start starts the Syslog server
func (s *SyslogServer) Start() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return err
	}

	s.conn = conn
	log.Info().Str("addr", conn.LocalAddr().String()).Msg("Syslog ingestion server started")

	s.wg.Add(1)
	go s.receiveMessages()

	return nil
}

// Addr returns the bound address.
func (s *SyslogServer) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *SyslogServer) receiveMessages() {
	defer s.wg.Done()

	buffer := make([]byte, 65536)
	for {
		n, addr, err := s.conn.ReadFrom(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.stopChan:
				return
			default:
			}
			log.Error().Err(err).Msg("Error reading syslog message")
			continue
		}

		message := strings.TrimRight(string(buffer[:n]), "\r\n")
		if strings.TrimSpace(message) == "" {
			continue
		}
		s.process(message, addr.String())
	}
}

func (s *SyslogServer) process(message, sourceAddr string) {
	r := ParseSyslog(message, time.Now())
	r.ID = uuid.New().String()
	r.Category = s.rules.Categorize(r.Message, r.Level)
	r.Environment = models.EnvProduction
	r.Data["source_addr"] = sourceAddr

	if err := s.sink.Ingest(context.Background(), r); err != nil {
		log.Error().Err(err).Str("source_addr", sourceAddr).Msg("Failed to ingest syslog message")
	}
}

// ParseSyslog maps a syslog message onto a record. Messages in neither
// format are kept whole at INFO. ID and Category are left for the caller.
func ParseSyslog(message string, now time.Time) *models.Record {
	if m := rfc5424.FindStringSubmatch(message); m != nil {
		r := fromPriority(m[1], m[9])
		if ts, err := time.Parse(time.RFC3339Nano, m[3]); err == nil {
			r.Timestamp = ts
		} else {
			r.Timestamp = now
		}
		r.Source = orDefault(m[5], "syslog")
		r.Data["hostname"] = m[4]
		r.Data["procid"] = m[6]
		r.Data["msgid"] = m[7]
		r.Data["structured_data"] = m[8]
		r.Data["format"] = "RFC5424"
		return r
	}

	if m := rfc3164.FindStringSubmatch(message); m != nil {
		r := fromPriority(m[1], m[7])
		r.Timestamp = now
		if ts, err := time.ParseInLocation("Jan _2 15:04:05", strings.Join(strings.Fields(m[2]), " "), time.Local); err == nil {
			r.Timestamp = time.Date(now.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local)
		}
		r.Source = orDefault(m[4], "syslog")
		r.Data["hostname"] = m[3]
		r.Data["format"] = "RFC3164"
		if m[6] != "" {
			r.Data["pid"] = m[6]
		}
		return r
	}

	return &models.Record{
		Timestamp: now,
		Level:     models.LevelInfo,
		Message:   strings.TrimSpace(message),
		Source:    "syslog",
		Data:      map[string]interface{}{"format": "unknown"},
	}
}

func fromPriority(priority, message string) *models.Record {
	p, _ := strconv.Atoi(priority)
	level, ok := models.NormalizeLevel(severityLevels[p&0x07])
	if !ok {
		level = models.LevelInfo
	}
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "(empty syslog message)"
	}
	return &models.Record{
		Level:   level,
		Message: msg,
		Data:    map[string]interface{}{"facility": facilityNames[p>>3]},
	}
}

func orDefault(v, def string) string {
	if v == "" || v == "-" {
		return def
	}
	return v
}

// Stop gracefully shuts down the Syslog server
func (s *SyslogServer) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })

	if s.conn != nil {
		s.conn.Close()
	}

	s.wg.Wait()
	return nil
}
