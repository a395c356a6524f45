package fdn

import (
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	Path             dbus.ObjectPath = "/org/freedesktop/Notifications"
	Interface                        = "org.freedesktop.Notifications"
	ControlInterface                 = "org.notifyd.cmd0"
	DefaultName                      = "org.freedesktop.Notifications"

	serverName   = "notifyd"
	serverVendor = "notifyd"
	specVersion  = "1.2"
)

// Version is reported by GetServerInformation; main overrides it.
var Version = "dev"

// callTimeout bounds how long a bus handler waits for the loop.
const callTimeout = 5 * time.Second

// loopError maps a loop failure to a D-Bus error reply.
func loopError(err error) *dbus.Error {
	return dbus.MakeFailedError(err)
}

// notifications is exported as org.freedesktop.Notifications.
type notifications struct {
	srv *Server
	seq *sequencer
}

func (o *notifications) GetCapabilities() ([]string, *dbus.Error) {
	return Capabilities(o.srv.Markup()), nil
}

func (o *notifications) Notify(sender dbus.Sender, msg dbus.Message, appName string, replacesID uint32, appIcon, summary, body string,
	actions []string, hints map[string]dbus.Variant, expireTimeout int32,
) (uint32, *dbus.Error) {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	id, err := o.srv.Notify(ctx, NotifyCall{
		Sender:        string(sender),
		AppName:       appName,
		ReplacesID:    replacesID,
		AppIcon:       appIcon,
		Summary:       summary,
		Body:          body,
		Actions:       actions,
		Hints:         hints,
		ExpireTimeout: expireTimeout,
	})
	if err != nil {
		return 0, loopError(err)
	}
	return id, nil
}

func (o *notifications) CloseNotification(sender dbus.Sender, msg dbus.Message, id uint32) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if err := o.srv.Close(ctx, id); err != nil {
		return loopError(err)
	}
	return nil
}

func (o *notifications) GetServerInformation() (string, string, string, string, *dbus.Error) {
	return serverName, serverVendor, Version, specVersion, nil
}

// control is exported as org.notifyd.cmd0 for the rendering and input side.
type control struct {
	srv *Server
	seq *sequencer
}

func (o *control) CloseTop(sender dbus.Sender, msg dbus.Message) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if _, err := o.srv.CloseTop(ctx); err != nil {
		return loopError(err)
	}
	return nil
}

func (o *control) CloseAll(sender dbus.Sender, msg dbus.Message) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if _, err := o.srv.CloseAll(ctx); err != nil {
		return loopError(err)
	}
	return nil
}

func (o *control) HistoryPop(sender dbus.Sender, msg dbus.Message) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if _, err := o.srv.HistoryPop(ctx); err != nil {
		return loopError(err)
	}
	return nil
}

func (o *control) InvokeAction(sender dbus.Sender, msg dbus.Message, id uint32, key string) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if _, err := o.srv.InvokeAction(ctx, id, key); err != nil {
		return loopError(err)
	}
	return nil
}

func (o *control) SetFullscreen(sender dbus.Sender, msg dbus.Message, v bool) *dbus.Error {
	ctx, cancel := o.seq.callCtx(sender, msg)
	defer cancel()
	if _, err := o.srv.SetFullscreen(ctx, v); err != nil {
		return loopError(err)
	}
	return nil
}
