package fdn

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Client talks to a running notifyd over the session bus.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	name string
}

func Dial(name string) (*Client, error) {
	if name == "" {
		name = DefaultName
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(name, Path), name: name}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Running(ctx context.Context) (bool, error) {
	var v dbus.Variant
	err := c.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, ControlInterface, runningProp).Store(&v)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", runningProp, err)
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("get %s: unexpected type %s", runningProp, v.Signature())
	}
	return b, nil
}

func (c *Client) SetRunning(ctx context.Context, v bool) error {
	call := c.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0,
		ControlInterface, runningProp, dbus.MakeVariant(v))
	if call.Err != nil {
		return fmt.Errorf("set %s: %w", runningProp, call.Err)
	}
	return nil
}

// ListenRunning calls fn for every change of the running property until ctx
// is done.
func (c *Client) ListenRunning(ctx context.Context, fn func(bool)) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(Path),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(0, ControlInterface),
	}
	if err := c.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = c.conn.RemoveMatchSignal(opts...) }()

	ch := make(chan *dbus.Signal, 8)
	c.conn.Signal(ch)
	defer c.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("listen: connection closed")
			}
			if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			if v, ok := changed[runningProp]; ok {
				if b, ok := v.Value().(bool); ok {
					fn(b)
				}
			}
		}
	}
}

func (c *Client) control(ctx context.Context, method string, args ...interface{}) *dbus.Call {
	return c.obj.CallWithContext(ctx, ControlInterface+"."+method, 0, args...)
}

func (c *Client) CloseAll(ctx context.Context) error {
	return callErr("CloseAll", c.control(ctx, "CloseAll"))
}

func (c *Client) CloseTop(ctx context.Context) error {
	return callErr("CloseTop", c.control(ctx, "CloseTop"))
}

func (c *Client) HistoryPop(ctx context.Context) error {
	return callErr("HistoryPop", c.control(ctx, "HistoryPop"))
}

func (c *Client) InvokeAction(ctx context.Context, id uint32, key string) error {
	return callErr("InvokeAction", c.control(ctx, "InvokeAction", id, key))
}

func (c *Client) SetFullscreen(ctx context.Context, v bool) error {
	return callErr("SetFullscreen", c.control(ctx, "SetFullscreen", v))
}

// ServerInformation asks whoever owns the name what it is.
func (c *Client) ServerInformation(ctx context.Context) (OwnerInfo, error) {
	info := OwnerInfo{Name: c.name}
	var spec string
	err := c.obj.CallWithContext(ctx, Interface+".GetServerInformation", 0).
		Store(&info.Server, &info.Vendor, &info.Version, &spec)
	if err != nil {
		return info, fmt.Errorf("GetServerInformation: %w", err)
	}
	return info, nil
}

func callErr(method string, call *dbus.Call) error {
	if call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	return nil
}
