package fdn

import (
	"github.com/godbus/dbus/v5"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// busEmitter delivers lifecycle signals to the client that sent the
// notification rather than broadcasting them.
type busEmitter struct {
	conn *dbus.Conn
	log  logx.Logger
}

func (e *busEmitter) NotificationClosed(n *notification.Notification, reason notification.Reason) {
	if !n.Invalidate() {
		return
	}
	e.send(n.Client, "NotificationClosed", n.ID, uint32(reason.Normalize()))
}

func (e *busEmitter) ActionInvoked(n *notification.Notification, key string) {
	if !n.Valid {
		return
	}
	e.send(n.Client, "ActionInvoked", n.ID, key)
}

func (e *busEmitter) send(dest, member string, values ...interface{}) {
	msg := signalMessage(dest, member, values...)
	if err := msg.IsValid(); err != nil {
		e.fail(dest, member, err)
		return
	}
	// Signals carry no reply; Send returns once the message is queued.
	if call := e.conn.Send(msg, nil); call != nil && call.Err != nil {
		e.fail(dest, member, call.Err)
	}
}

func (e *busEmitter) fail(dest, member string, err error) {
	if e.log.IsZero() {
		return
	}
	e.log.Warn("signal not sent",
		logx.String("signal", member),
		logx.String("destination", dest),
		logx.Err(err),
	)
}

// signalMessage builds a unicast signal. An empty destination broadcasts.
func signalMessage(dest, member string, values ...interface{}) *dbus.Message {
	msg := &dbus.Message{
		Type: dbus.TypeSignal,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:      dbus.MakeVariant(Path),
			dbus.FieldInterface: dbus.MakeVariant(Interface),
			dbus.FieldMember:    dbus.MakeVariant(member),
		},
		Body: values,
	}
	if dest != "" {
		msg.Headers[dbus.FieldDestination] = dbus.MakeVariant(dest)
	}
	if len(values) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(values...))
	}
	return msg
}
