package fdn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

var (
	ErrNameTaken = errors.New("bus name is taken")
	ErrNameLost  = errors.New("bus name lost")
)

// describeTimeout bounds the owner lookup on a name conflict.
const describeTimeout = 500 * time.Millisecond

// OwnerInfo is what could be learned about the current owner of a name.
// Fields the owner did not answer for stay empty.
type OwnerInfo struct {
	Name    string
	Unique  string
	PID     uint32
	Server  string
	Vendor  string
	Version string
}

func (o OwnerInfo) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name %q is owned by %q", o.Name, o.Unique)
	if o.PID != 0 {
		fmt.Fprintf(&b, " (pid %d)", o.PID)
	}
	if o.Server != "" {
		fmt.Fprintf(&b, ", server %s %s", o.Server, o.Version)
		if o.Vendor != "" && o.Vendor != o.Server {
			fmt.Fprintf(&b, " by %s", o.Vendor)
		}
	}
	return b.String()
}

// Describe asks the bus and the owner itself who holds name. It gives up
// quietly once ctx or describeTimeout expires.
func Describe(ctx context.Context, conn *dbus.Conn, name string) OwnerInfo {
	ctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()

	info := OwnerInfo{Name: name, Unique: "unknown"}
	bus := conn.BusObject()
	var unique string
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.GetNameOwner", 0, name).Store(&unique); err != nil {
		return info
	}
	info.Unique = unique

	var pid uint32
	if err := bus.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, unique).Store(&pid); err == nil {
		info.PID = pid
	}

	var spec string
	_ = conn.Object(unique, Path).
		CallWithContext(ctx, Interface+".GetServerInformation", 0).
		Store(&info.Server, &info.Vendor, &info.Version, &spec)
	return info
}

// acquire takes name or fails with ErrNameTaken and a description of the
// current owner.
func acquire(ctx context.Context, conn *dbus.Conn, name string) error {
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name %q: %w", name, err)
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNameTaken, Describe(ctx, conn, name))
}

// watchNameLost blocks until ctx is done or the bus takes name away from us.
func watchNameLost(ctx context.Context, conn *dbus.Conn, name string) error {
	opts := []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameLost"),
	}
	if err := conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("watch name: %w", err)
	}
	defer func() { _ = conn.RemoveMatchSignal(opts...) }()

	ch := make(chan *dbus.Signal, 8)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: connection closed", ErrNameLost)
			}
			if sig.Name != "org.freedesktop.DBus.NameLost" || len(sig.Body) == 0 {
				continue
			}
			if lost, _ := sig.Body[0].(string); lost == name {
				return fmt.Errorf("%w: %q", ErrNameLost, name)
			}
		}
	}
}
