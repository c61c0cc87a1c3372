package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"lanchat/protocol"
)

var ErrNotConnected = errors.New("not connected")

// Client is a lanchat protocol client. Every envelope the server sends is
// passed to the registered handlers and queued for Next.
type Client struct {
	conn     net.Conn
	enc      *protocol.Encoder
	dec      *protocol.Decoder
	mu       sync.Mutex
	sendMu   sync.Mutex
	handlers map[protocol.Operation][]func(protocol.Envelope)
	inbox    chan protocol.Envelope
	done     chan struct{}
	closeErr error

	id        string
	connected bool
}

func NewClient() *Client {
	return &Client{
		handlers: make(map[protocol.Operation][]func(protocol.Envelope)),
		inbox:    make(chan protocol.Envelope, 256),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts reading.
func (c *Client) Connect(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	c.Attach(conn)
	return nil
}

// Attach uses an already established connection.
func (c *Client) Attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.enc = protocol.NewEncoder(conn)
	c.dec = protocol.NewDecoder(conn)
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()
}

// Disconnect logs out and closes the connection.
func (c *Client) Disconnect() error {
	if !c.IsConnected() {
		return nil
	}
	c.Send(protocol.Envelope{Operation: protocol.OpLogout})
	time.Sleep(100 * time.Millisecond)
	return c.Close()
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed once the server connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		env, err := c.dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				continue
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.closeErr = err
			return
		}
		c.notifyHandlers(env)

		select {
		case c.inbox <- env:
		default:
			// nobody is draining the inbox; handlers already saw it
		}
	}
}

func (c *Client) notifyHandlers(env protocol.Envelope) {
	c.mu.Lock()
	handlers := c.handlers[env.Operation]
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// OnEnvelope registers a handler for one operation. Handlers run on the
// read goroutine in arrival order.
func (c *Client) OnEnvelope(op protocol.Operation, handler func(protocol.Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = append(c.handlers[op], handler)
}

// Next returns the next envelope from the server.
func (c *Client) Next(ctx context.Context) (protocol.Envelope, error) {
	select {
	case env := <-c.inbox:
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-c.done:
		// drain what arrived before the close
		select {
		case env := <-c.inbox:
			return env, nil
		default:
			return protocol.Envelope{}, ErrNotConnected
		}
	}
}

// WaitFor skips envelopes until one with op arrives.
func (c *Client) WaitFor(ctx context.Context, op protocol.Operation) (protocol.Envelope, error) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return env, err
		}
		if env.Operation == op {
			return env, nil
		}
	}
}

// Send writes one envelope, stamping the client's account id as sender.
func (c *Client) Send(env protocol.Envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if env.SenderID == "" {
		env.SenderID = c.ID()
	}
	return c.enc.Encode(env)
}

func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

func (c *Client) Register(id, nickname, password string) error {
	c.setID(id)
	return c.Send(protocol.Envelope{Operation: protocol.OpRegister, Data: protocol.Pair(nickname, password)})
}

func (c *Client) Login(id, password string) error {
	c.setID(id)
	return c.Send(protocol.Envelope{Operation: protocol.OpLogin, Data: protocol.Text(password)})
}

// Initialize requests names, profiles, groups and chat history, in the
// order a client needs them.
func (c *Client) Initialize() error {
	for _, op := range []protocol.Operation{
		protocol.OpInitUser,
		protocol.OpInitUserDetail,
		protocol.OpInitGroup,
		protocol.OpInitChat,
	} {
		if err := c.Send(protocol.Envelope{Operation: op}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) CreateGroup(groupID, name string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpGroupCreate, TargetID: groupID, Data: protocol.Text(name)})
}

func (c *Client) JoinGroup(groupID string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpGroupJoin, TargetID: groupID})
}

func (c *Client) QuitGroup(groupID string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpGroupQuit, TargetID: groupID})
}

func (c *Client) Invite(groupID, invitee string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpGroupInvite, TargetID: groupID, Data: protocol.Text(invitee)})
}

func (c *Client) AddFriend(id string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpFriendAdd, TargetID: id})
}

func (c *Client) AgreeFriend(requester string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpFriendAddAgree, TargetID: requester})
}

// Chat sends a group line in the stored chat line format.
func (c *Client) Chat(groupID, nickname, content string) error {
	line := protocol.CombineChatLine(c.ID(), nickname, content)
	return c.Send(protocol.Envelope{Operation: protocol.OpChat, TargetID: groupID, Data: protocol.Text(line)})
}

func (c *Client) PrivateChat(peer, text string) error {
	return c.Send(protocol.Envelope{Operation: protocol.OpPrivateChat, TargetID: peer, Data: protocol.Text(text)})
}
