// File: registry/spec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Construction requests for channels and IPC endpoints.

package registry

import (
	"github.com/momentics/hioload-mux/address"
	"github.com/momentics/hioload-mux/api"
	"github.com/momentics/hioload-mux/channel"
	"github.com/momentics/hioload-mux/ipc"
)

// ChannelSpec describes the channel CreateChannel builds.
type ChannelSpec struct {
	Kind api.Kind
	// Mode selects client or server construction; ModeAccepted is reserved
	// for channels produced by Accept.
	Mode   api.Mode
	Local  address.Address
	Remote address.Address

	// Backlog of a TCP server; zero picks the socket default.
	Backlog int
	// Protocol of a raw channel; zero picks the default.
	Protocol int

	// Device and Baud configure serial channels.
	Device string
	Baud   int

	// Connect connects a client right after construction.
	Connect bool
}

// IPCSpec describes the IPC endpoint CreateIPC builds.
type IPCSpec struct {
	Kind   api.Kind
	Rights api.Rights
	Key    int
	Size   int
	Offset int
	// Create allocates the backing resource instead of attaching to it.
	Create bool
}

func buildChannel(spec ChannelSpec) (api.Channel, error) {
	var (
		ch  api.Channel
		err error
	)
	switch spec.Kind {
	case api.KindTCP:
		if spec.Mode == api.ModeServer {
			ch, err = nilSafe(channel.NewTCPServer(spec.Local, spec.Backlog))
		} else {
			ch, err = nilSafe(channel.NewTCPClient(spec.Local, spec.Remote))
		}
	case api.KindUDP:
		if spec.Mode == api.ModeServer {
			ch, err = nilSafe(channel.NewUDPServer(spec.Local))
		} else {
			ch, err = nilSafe(channel.NewUDPClient(spec.Local, spec.Remote))
		}
	case api.KindRaw:
		if spec.Mode == api.ModeServer {
			ch, err = nilSafe(channel.NewRawServer(spec.Local, spec.Protocol))
		} else {
			ch, err = nilSafe(channel.NewRawClient(spec.Local, spec.Remote, spec.Protocol))
		}
	case api.KindSerial:
		var s *channel.Serial
		if s, err = channel.OpenSerial(spec.Device, spec.Baud); err == nil {
			ch = s
		}
	default:
		return nil, api.NewError(api.ErrCodeNotSupported, "registry.buildChannel", spec.Kind.String())
	}
	if err != nil {
		return nil, err
	}
	if spec.Connect && spec.Mode == api.ModeClient {
		if err := ch.Connect(); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return ch, nil
}

func nilSafe(c *channel.Conn, err error) (api.Channel, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

func buildIPC(spec IPCSpec) (api.IPC, error) {
	switch spec.Kind {
	case api.KindSharedMemory:
		var (
			s   *ipc.SharedMemory
			err error
		)
		if spec.Create {
			s, err = ipc.CreateSharedMemory(spec.Key, spec.Size, spec.Offset)
		} else {
			s, err = ipc.AttachSharedMemory(spec.Key, spec.Size, spec.Offset, spec.Rights)
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	case api.KindMessageQueue:
		mq, err := ipc.OpenMessageQueue(spec.Key, spec.Rights, spec.Create)
		if err != nil {
			return nil, err
		}
		return mq, nil
	}
	return nil, api.NewError(api.ErrCodeNotSupported, "registry.buildIPC", spec.Kind.String())
}
