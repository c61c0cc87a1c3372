package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServeControl answers management commands on a unix socket, one
// "CMD|args" line per connection. shutdown is called after the shutdown
// command has been acknowledged.
func (s *Server) ServeControl(ctx context.Context, path string, shutdown func()) error {
	// Remove existing socket file
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("create control socket: %w", err)
	}
	defer os.Remove(path)

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.log.Info("Control socket listening on %s", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		go s.handleControlCommand(conn, shutdown)
	}
}

func (s *Server) handleControlCommand(conn net.Conn, shutdown func()) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	response, after := s.controlResponse(strings.TrimSpace(line), shutdown)
	conn.Write([]byte(response + "\n"))
	if after != nil {
		conn.Close()
		after()
	}
}

// controlResponse executes one command and returns the reply line plus an
// optional action to run once the reply is written.
func (s *Server) controlResponse(line string, shutdown func()) (string, func()) {
	parts := strings.SplitN(line, "|", 2)
	cmd := parts[0]

	switch cmd {
	case "stats":
		return "OK|" + s.formatStats(), nil

	case "queues":
		return "OK|" + s.formatQueues(), nil

	case "groups":
		return "OK|" + s.formatGroups(), nil

	case "save":
		if err := s.store.Save(); err != nil {
			s.log.Error("Save requested over control socket failed: %v", err)
			return "ERROR|" + err.Error(), nil
		}
		return "OK|Saved", nil

	case "shutdown":
		s.log.Info("Shutdown requested over control socket")
		return "OK|Shutting down", shutdown

	case "":
		return "ERROR|Invalid command", nil

	default:
		return "ERROR|Unknown command", nil
	}
}

func (s *Server) formatStats() string {
	st := s.Stats()
	fields := []string{
		"connections=" + strconv.Itoa(st.Connections),
		"users=" + strings.Join(st.Online, ";"),
		"accounts=" + strconv.Itoa(st.Accounts),
		"groups=" + strconv.Itoa(st.Groups),
		"memberships=" + strconv.Itoa(st.Memberships),
	}
	for _, p := range st.Pools {
		fields = append(fields, fmt.Sprintf("%s=%d/%d", p.Name, p.Active, p.Max))
	}
	return strings.Join(fields, ",")
}

func (s *Server) formatQueues() string {
	var entries []string
	for _, q := range s.QueueStatus() {
		account := q.AccountID
		if account == "" {
			account = "-"
		}
		entries = append(entries, fmt.Sprintf("%s:%s:%d/%d", q.SessionID, account, q.Depth, q.Capacity))
	}
	return strings.Join(entries, ";")
}

func (s *Server) formatGroups() string {
	var entries []string
	for _, g := range s.store.AllGroups() {
		entries = append(entries, fmt.Sprintf("%s:%s:%s:%s", g.ID, g.Name, g.Owner, strings.Join(g.MemberIDs(), ",")))
	}
	return strings.Join(entries, ";")
}

// ControlRequest sends one command to a running server's control socket
// and returns the reply without its OK| prefix.
func ControlRequest(path, command string) (string, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to control socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return "", err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read control reply: %w", err)
	}
	line = strings.TrimSpace(line)

	if rest, ok := strings.CutPrefix(line, "OK|"); ok {
		return rest, nil
	}
	if rest, ok := strings.CutPrefix(line, "ERROR|"); ok {
		return "", errors.New(rest)
	}
	return "", fmt.Errorf("unexpected control reply %q", line)
}
