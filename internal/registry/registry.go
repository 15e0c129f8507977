package registry

import (
	"errors"
	"fmt"

	"github.com/cheildo/arena-coordinator/internal/protocol"
)

var (
	ErrDuplicateAdmin = errors.New("an admin connection is already registered")
	ErrUnknownConn    = errors.New("connection is not registered")
)

// Role is what a connection declared itself as in its ServerHello.
type Role string

const (
	RoleNone   Role = ""
	RoleAdmin  Role = "admin"
	RoleServer Role = "server"
)

// Conn is one client connection as seen by the coordinator.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
}

// Registry tracks the admin connection and the set of game-server
// connections. It is owned by the coordinator loop and is not safe for
// concurrent use.
type Registry struct {
	admin   Conn
	servers []Conn
	index   map[string]int
}

// New returns an empty registry with no admin and no servers.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// RegisterAdmin records conn as the admin. The first admin wins; a second
// connection gets ErrDuplicateAdmin.
func (r *Registry) RegisterAdmin(conn Conn) error {
	if r.admin != nil {
		if r.admin.ID() == conn.ID() {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateAdmin, r.admin.ID())
	}
	r.admin = conn
	return nil
}

// RegisterServer adds conn to the server set. Registering twice is a no-op.
func (r *Registry) RegisterServer(conn Conn) {
	if _, ok := r.index[conn.ID()]; ok {
		return
	}
	r.index[conn.ID()] = len(r.servers)
	r.servers = append(r.servers, conn)
}

// Unregister removes the connection from whichever role it held.
func (r *Registry) Unregister(id string) Role {
	if r.admin != nil && r.admin.ID() == id {
		r.admin = nil
		return RoleAdmin
	}

	pos, ok := r.index[id]
	if !ok {
		return RoleNone
	}
	r.servers = append(r.servers[:pos], r.servers[pos+1:]...)
	delete(r.index, id)
	for i := pos; i < len(r.servers); i++ {
		r.index[r.servers[i].ID()] = i
	}
	return RoleServer
}

// RoleOf reports the role a connection holds.
func (r *Registry) RoleOf(id string) Role {
	if r.admin != nil && r.admin.ID() == id {
		return RoleAdmin
	}
	if _, ok := r.index[id]; ok {
		return RoleServer
	}
	return RoleNone
}

// Admin returns the admin connection, if one is registered.
func (r *Registry) Admin() (Conn, bool) {
	return r.admin, r.admin != nil
}

// Servers returns the server connections in registration order.
func (r *Registry) Servers() []Conn {
	return append([]Conn(nil), r.servers...)
}

// Broadcast sends msg to every registered server. A failed send does not
// stop delivery to the others; all failures are joined into the result.
func (r *Registry) Broadcast(msg protocol.Message) error {
	var errs []error
	for _, conn := range r.servers {
		if err := conn.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("send %s to %s: %w", msg.Kind(), conn.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// SendTo delivers msg to one registered connection.
func (r *Registry) SendTo(id string, msg protocol.Message) error {
	if r.admin != nil && r.admin.ID() == id {
		return r.admin.Send(msg)
	}
	pos, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, id)
	}
	return r.servers[pos].Send(msg)
}
