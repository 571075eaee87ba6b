package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/senutpal/synod/internal/paxos"
)

// maxDatagram bounds one encoded message; the largest Propose must fit.
const maxDatagram = 64000

// UDPTransport sends each message as one JSON datagram. Datagrams from
// addresses that claim an unknown sender are dropped.
type UDPTransport struct {
	id     paxos.ProcessID
	conn   *net.UDPConn
	logger *log.Logger

	mu    sync.RWMutex
	peers map[paxos.ProcessID]*net.UDPAddr
	order []paxos.ProcessID

	inbox     chan paxos.Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ListenUDP binds addr (e.g. "127.0.0.1:0") for id and starts reading.
func ListenUDP(id paxos.ProcessID, addr string, logger *log.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = log.Default()
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	t := &UDPTransport{
		id:     id,
		conn:   conn,
		logger: logger,
		peers:  make(map[paxos.ProcessID]*net.UDPAddr),
		inbox:  make(chan paxos.Message, DefaultInboxSize),
		done:   make(chan struct{}),
	}
	t.peers[id] = conn.LocalAddr().(*net.UDPAddr)
	t.order = append(t.order, id)
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// Addr returns the bound address.
func (t *UDPTransport) Addr() string { return t.conn.LocalAddr().String() }

func (t *UDPTransport) ID() paxos.ProcessID { return t.id }

// AddPeer registers the address of another process.
func (t *UDPTransport) AddPeer(id paxos.ProcessID, addr string) error {
	udp, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve peer %s at %s: %w", id, addr, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		t.order = append(t.order, id)
	}
	t.peers[id] = udp
	return nil
}

func (t *UDPTransport) Send(to paxos.ProcessID, msg paxos.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	if to == t.id {
		t.enqueue(msg)
		return nil
	}
	t.mu.RLock()
	addr, ok := t.peers[to]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", to, ErrUnknownNode)
	}
	data, err := Encode(t.id, msg)
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

func (t *UDPTransport) Broadcast(msg paxos.Message) error {
	t.mu.RLock()
	ids := append([]paxos.ProcessID(nil), t.order...)
	t.mu.RUnlock()
	var first error
	for _, id := range ids {
		if err := t.Send(id, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *UDPTransport) ReceiveTimeout(timeout time.Duration) (paxos.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil, ErrClosed
	case msg := <-t.inbox:
		return msg, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.isClosed() {
				return
			}
			t.logger.Printf("[%s] read: %v", t.id, err)
			continue
		}
		sender, msg, err := Decode(buf[:n])
		if err != nil {
			t.logger.Printf("[%s] dropping datagram from %s: %v", t.id, from, err)
			continue
		}
		t.mu.RLock()
		_, known := t.peers[sender]
		t.mu.RUnlock()
		if !known {
			t.logger.Printf("[%s] dropping %s from unknown sender %q at %s", t.id, msg.Type(), sender, from)
			continue
		}
		t.enqueue(msg)
	}
}

func (t *UDPTransport) enqueue(msg paxos.Message) {
	select {
	case t.inbox <- msg:
	default:
		t.logger.Printf("[%s] inbox full, dropping %s", t.id, msg.Type())
	}
}

func (t *UDPTransport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
