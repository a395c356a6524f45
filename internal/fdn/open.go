package fdn

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"golang.org/x/time/rate"

	logx "notifyd/pkg/logx"
)

// Endpoint is the server's presence on the session bus.
type Endpoint struct {
	conn  *dbus.Conn
	name  string
	props *prop.Properties
	log   logx.Logger
}

// Open connects to the session bus, exports srv under name and takes the
// name. It must be called before srv.Run. A name held by someone else fails
// with ErrNameTaken.
func Open(ctx context.Context, srv *Server, name string, log logx.Logger) (*Endpoint, error) {
	if name == "" {
		name = DefaultName
	}
	known := knownMethods()
	seq := newSequencer(orderGap)
	unknown := newCallLogger(log)
	var armed atomic.Bool
	conn, err := dbus.ConnectSessionBus(dbus.WithIncomingInterceptor(func(msg *dbus.Message) {
		if msg.Type != dbus.TypeMethodCall {
			return
		}
		switch {
		case known.ordered(msg):
			if armed.Load() {
				seq.stamp(keyOf(msg))
			}
		case !known.has(msg):
			unknown.report(msg)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	ep := &Endpoint{conn: conn, name: name, log: log}
	if err := ep.export(srv, seq); err != nil {
		_ = conn.Close()
		return nil, err
	}
	armed.Store(true)
	if err := acquire(ctx, conn, name); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !log.IsZero() {
		log.Info("bus name acquired", logx.String("name", name), logx.Strs("names", conn.Names()))
	}
	return ep, nil
}

func (e *Endpoint) export(srv *Server, seq *sequencer) error {
	n := &notifications{srv: srv, seq: seq}
	c := &control{srv: srv, seq: seq}

	props, err := exportRunning(e.conn, srv)
	if err != nil {
		return fmt.Errorf("export properties: %w", err)
	}
	e.props = props
	srv.attach(&busEmitter{conn: e.conn, log: e.log}, func(v bool) {
		e.props.SetMust(ControlInterface, runningProp, v)
	})

	if err := e.conn.Export(n, Path, Interface); err != nil {
		return fmt.Errorf("export %s: %w", Interface, err)
	}
	if err := e.conn.Export(c, Path, ControlInterface); err != nil {
		return fmt.Errorf("export %s: %w", ControlInterface, err)
	}
	node := introspection(n, c, props)
	if err := e.conn.Export(introspect.NewIntrospectable(node), Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

// WatchNameLost returns ErrNameLost if the bus hands our name to someone
// else, nil once ctx is done.
func (e *Endpoint) WatchNameLost(ctx context.Context) error {
	return watchNameLost(ctx, e.conn, e.name)
}

// Close gives the name back and drops the connection.
func (e *Endpoint) Close() error {
	if e == nil || e.conn == nil {
		return nil
	}
	if _, err := e.conn.ReleaseName(e.name); err != nil && !e.log.IsZero() {
		e.log.Warn("release name failed", logx.String("name", e.name), logx.Err(err))
	}
	return e.conn.Close()
}

// methodSet maps interface and member to the input signature we accept.
type methodSet map[string]map[string]string

// knownMethods lists the members we answer, per interface.
func knownMethods() methodSet {
	known := methodSet{
		"org.freedesktop.DBus.Properties":     {"Get": "ss", "GetAll": "s", "Set": "ssv"},
		"org.freedesktop.DBus.Introspectable": {"Introspect": ""},
		"org.freedesktop.DBus.Peer":           {"Ping": "", "GetMachineId": ""},
	}
	for iface, v := range map[string]interface{}{Interface: &notifications{}, ControlInterface: &control{}} {
		set := map[string]string{}
		for _, m := range introspect.Methods(v) {
			var sig strings.Builder
			for _, a := range m.Args {
				if a.Direction == "in" {
					sig.WriteString(a.Type)
				}
			}
			set[m.Name] = sig.String()
		}
		known[iface] = set
	}
	return known
}

func callHeaders(msg *dbus.Message) (path dbus.ObjectPath, iface, member, sig string) {
	path, _ = msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)
	iface, _ = msg.Headers[dbus.FieldInterface].Value().(string)
	member, _ = msg.Headers[dbus.FieldMember].Value().(string)
	if s, ok := msg.Headers[dbus.FieldSignature].Value().(dbus.Signature); ok {
		sig = s.String()
	}
	return path, iface, member, sig
}

func (m methodSet) has(msg *dbus.Message) bool {
	path, iface, member, _ := callHeaders(msg)
	if path != Path {
		return false
	}
	_, ok := m[iface][member]
	return ok
}

// ordered reports whether msg will reach one of our own handlers: the
// Notifications or control interface, with arguments they decode.
func (m methodSet) ordered(msg *dbus.Message) bool {
	path, iface, member, sig := callHeaders(msg)
	if path != Path || (iface != Interface && iface != ControlInterface) {
		return false
	}
	if answeredInline[member] {
		return false
	}
	want, ok := m[iface][member]
	return ok && want == sig
}

// answeredInline are handlers that reply without going through the loop.
var answeredInline = map[string]bool{"GetCapabilities": true, "GetServerInformation": true}

// callLogger reports calls nobody answers. It runs on the connection's read
// goroutine, so a misbehaving client is rate limited.
type callLogger struct {
	log logx.Logger
	lim *rate.Limiter
}

func newCallLogger(log logx.Logger) *callLogger {
	return &callLogger{log: log, lim: rate.NewLimiter(rate.Every(time.Second), 5)}
}

func (c *callLogger) report(msg *dbus.Message) {
	if c.log.IsZero() || !c.lim.Allow() {
		return
	}
	path, iface, member, sig := callHeaders(msg)
	sender, _ := msg.Headers[dbus.FieldSender].Value().(string)
	c.log.Info("unhandled method call",
		logx.String("path", string(path)),
		logx.String("interface", iface),
		logx.String("member", member),
		logx.String("signature", sig),
		logx.String("sender", sender),
	)
}
