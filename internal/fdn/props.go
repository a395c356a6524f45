package fdn

import (
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

const runningProp = "running"

var errLoopBusy = errors.New("notification loop is busy, try again")

// exportRunning publishes the running flag on ControlInterface. A Set from
// the bus is handed to the loop; the loop mirrors its own changes back with
// SetMust.
func exportRunning(conn *dbus.Conn, srv *Server) (*prop.Properties, error) {
	props, err := prop.Export(conn, Path, prop.Map{
		ControlInterface: {
			runningProp: {
				Value:    true,
				Writable: true,
				Emit:     prop.EmitTrue,
				Callback: func(c *prop.Change) *dbus.Error {
					v, ok := c.Value.(bool)
					if !ok {
						return prop.ErrInvalidArg
					}
					if !srv.offerRunning(v) {
						return dbus.MakeFailedError(errLoopBusy)
					}
					return nil
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}
