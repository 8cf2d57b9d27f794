// Package coordinator is the multi-tenant shared mailbox: when the runtime
// is split into a client library and a daemon, kernel/port state lives only
// in the daemon, and clients reach it through a single-slot request/response
// mailbox instead of calling pkg/kpr, pkg/shs and pkg/exc directly.
//
// A real cross-process deployment backs the mailbox with POSIX shared
// memory and process-shared mutexes/condvars under a named shared-memory
// object. Go has no process-shared sync.Mutex/sync.Cond, and exposing the
// pthread `PROCESS_SHARED` attribute would need cgo well beyond this
// package's scope — see DESIGN.md for that decision. This package keeps the
// exact single-writer mailbox semantics (one pending request, per-channel
// response slots, a free/request/response condvar triad) using in-process
// sync.Mutex/sync.Cond, and leaves the shared-memory transport as the seam a
// real daemon/client split would replace: User's ShmName is carried through
// unused by the in-process implementation, ready to key a future
// unix.Mmap-backed channel array.
package coordinator

import (
	"context"
	"sync"

	"github.com/oisee/artico3/pkg/a3errors"
)

// FuncTag is the closed enumeration of coordinator operations.
type FuncTag uint8

const (
	AddUser FuncTag = iota
	RemoveUser
	Load
	Unload
	KernelCreate
	KernelRelease
	KernelExecute
	KernelWait
	KernelReset
	KernelWcfg
	KernelRcfg
	Alloc
	Free
	GetNaccs
)

func (f FuncTag) String() string {
	switch f {
	case AddUser:
		return "AddUser"
	case RemoveUser:
		return "RemoveUser"
	case Load:
		return "Load"
	case Unload:
		return "Unload"
	case KernelCreate:
		return "KernelCreate"
	case KernelRelease:
		return "KernelRelease"
	case KernelExecute:
		return "KernelExecute"
	case KernelWait:
		return "KernelWait"
	case KernelReset:
		return "KernelReset"
	case KernelWcfg:
		return "KernelWcfg"
	case KernelRcfg:
		return "KernelRcfg"
	case Alloc:
		return "Alloc"
	case Free:
		return "Free"
	case GetNaccs:
		return "GetNaccs"
	default:
		return "?"
	}
}

// shmNameLen is the fixed shared-memory filename length: User objects are
// named with 13-byte filenames.
const shmNameLen = 13

// Request is the coordinator's single-slot mailbox payload: user id,
// channel id, function tag, packed argument bytes, and the optional
// fixed-size shm name some requests (AddUser) carry.
type Request struct {
	UserID    int
	ChannelID int
	Func      FuncTag
	Args      []byte
	Shm       [shmNameLen]byte
}

// Channel is one of a User's fixed array of request slots: at most one
// in-flight request per channel, guarded by its own condvar so a response
// wakes only the client waiting on it.
type Channel struct {
	mu                sync.Mutex
	cond              *sync.Cond
	free              bool
	args              []byte
	response          []byte
	responseAvailable bool
}

func newChannel() *Channel {
	c := &Channel{free: true}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// User is a registered client: a numeric identity, its backing shared-memory
// name, and a fixed array of channels.
type User struct {
	ID       int
	ShmName  string
	Channels []*Channel
}

// Coordinator is the daemon-side single-slot mailbox: exactly one pending
// request at a time, published under the coordinator lock and drained by
// one receiver loop.
type Coordinator struct {
	mu               sync.Mutex
	condRequest      *sync.Cond
	condFree         *sync.Cond
	requestAvailable bool
	request          Request
	terminate        bool

	maxUsers      int
	maxKernels    int
	channelsPer   int
	users         map[int]*User
	shmNamesInUse map[string]bool
}

// New creates a Coordinator willing to register up to maxUsers clients,
// each with channelsPerUser channels, reporting maxKernels back from
// AddUser as the catalogue-size response.
func New(maxUsers, channelsPerUser, maxKernels int) *Coordinator {
	c := &Coordinator{
		maxUsers:      maxUsers,
		maxKernels:    maxKernels,
		channelsPer:   channelsPerUser,
		users:         make(map[int]*User),
		shmNamesInUse: make(map[string]bool),
	}
	c.condRequest = sync.NewCond(&c.mu)
	c.condFree = sync.NewCond(&c.mu)
	return c
}

// AddUser implements the daemon-side AddUser handler: rejects a shm
// filename already in use by a live user, assigns the lowest free user id,
// and returns MaxKernels as the catalogue-size response.
func (c *Coordinator) AddUser(shmName string) (userID int, maxKernels int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shmNamesInUse[shmName] {
		return 0, 0, a3errors.New(a3errors.DuplicateName, shmName)
	}

	id := -1
	for i := 0; i < c.maxUsers; i++ {
		if _, taken := c.users[i]; !taken {
			id = i
			break
		}
	}
	if id == -1 {
		return 0, 0, a3errors.New(a3errors.TooManyUsers, shmName)
	}

	u := &User{ID: id, ShmName: shmName, Channels: make([]*Channel, c.channelsPer)}
	for i := range u.Channels {
		u.Channels[i] = newChannel()
	}
	c.users[id] = u
	c.shmNamesInUse[shmName] = true

	return id, c.maxKernels, nil
}

// RemoveUser releases userID's channel array and frees its shm name for
// reuse.
func (c *Coordinator) RemoveUser(userID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[userID]
	if !ok {
		return a3errors.New(a3errors.NotFound, "user id")
	}
	delete(c.shmNamesInUse, u.ShmName)
	delete(c.users, userID)
	return nil
}

// acquireChannel finds and claims a free channel belonging to userID from
// its own user structure.
func (c *Coordinator) acquireChannel(userID int) (int, *Channel, error) {
	c.mu.Lock()
	u, ok := c.users[userID]
	c.mu.Unlock()
	if !ok {
		return 0, nil, a3errors.New(a3errors.NotFound, "user id")
	}

	for i, ch := range u.Channels {
		ch.mu.Lock()
		if ch.free {
			ch.free = false
			ch.mu.Unlock()
			return i, ch, nil
		}
		ch.mu.Unlock()
	}
	return 0, nil, a3errors.New(a3errors.NoFreeChannel, "user channels")
}

// Call is the client side of a round trip: acquire a channel, publish a
// request into the single-slot mailbox, then block for the matching
// response. ctx is consulted once the response arrives and its Err is
// returned alongside it; a still-blocked wait is not itself interrupted by
// cancellation (sync.Cond has no context-aware Wait), so callers that need
// a hard deadline should also bound the daemon side (e.g. via Terminate).
func (c *Coordinator) Call(ctx context.Context, userID int, tag FuncTag, args []byte, shm [shmNameLen]byte) ([]byte, error) {
	chanIdx, ch, err := c.acquireChannel(userID)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	ch.args = args
	ch.responseAvailable = false
	ch.mu.Unlock()

	c.mu.Lock()
	for c.requestAvailable {
		c.condFree.Wait()
	}
	c.request = Request{UserID: userID, ChannelID: chanIdx, Func: tag, Args: args, Shm: shm}
	c.requestAvailable = true
	c.mu.Unlock()
	c.condRequest.Signal()

	ch.mu.Lock()
	for !ch.responseAvailable {
		ch.cond.Wait()
	}
	resp := ch.response
	ch.free = true
	ch.mu.Unlock()

	select {
	case <-ctx.Done():
		return resp, ctx.Err()
	default:
		return resp, nil
	}
}

// Handler executes one dispatched request and returns its response bytes.
type Handler func(req Request) ([]byte, error)

// Run is the daemon-side receiver loop: wait for a pending request, copy it
// out and clear the mailbox (waking any client blocked on condFree) before
// spawning a detached worker to execute it and write the response into the
// originating channel. The mailbox must clear as soon as the request is
// dequeued, not when the worker finishes, or the next iteration would find
// requestAvailable still set and redispatch the same request. It returns
// when Terminate is called: a termination flag polled under the coordinator
// lock lets a SIGINT/SIGTERM unblock the receiver.
func (c *Coordinator) Run(handle Handler) {
	for {
		c.mu.Lock()
		for !c.requestAvailable && !c.terminate {
			c.condRequest.Wait()
		}
		if c.terminate {
			c.mu.Unlock()
			return
		}
		req := c.request
		u := c.users[req.UserID]
		c.requestAvailable = false
		c.mu.Unlock()
		c.condFree.Broadcast()

		go func() {
			resp, err := handle(req)
			if err != nil {
				resp = encodeErrorResponse(err)
			}
			if u != nil && req.ChannelID < len(u.Channels) {
				ch := u.Channels[req.ChannelID]
				ch.mu.Lock()
				ch.response = resp
				ch.responseAvailable = true
				ch.mu.Unlock()
				ch.cond.Signal()
			}
		}()
	}
}

// Terminate sets the termination flag and wakes the receiver loop so it can
// observe it and return.
func (c *Coordinator) Terminate() {
	c.mu.Lock()
	c.terminate = true
	c.mu.Unlock()
	c.condRequest.Broadcast()
}

func encodeErrorResponse(err error) []byte {
	code := a3errors.Code(err)
	resp := make([]byte, 4)
	resp[0] = byte(code)
	resp[1] = byte(code >> 8)
	resp[2] = byte(code >> 16)
	resp[3] = byte(code >> 24)
	return resp
}
