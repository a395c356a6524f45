package fdn

import (
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
)

func introspection(n *notifications, c *control, props *prop.Properties) *introspect.Node {
	return &introspect.Node{
		Name: string(Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(n),
				Signals: []introspect.Signal{
					{Name: "NotificationClosed", Args: []introspect.Arg{
						{Name: "id", Type: "u", Direction: "out"},
						{Name: "reason", Type: "u", Direction: "out"},
					}},
					{Name: "ActionInvoked", Args: []introspect.Arg{
						{Name: "id", Type: "u", Direction: "out"},
						{Name: "action_key", Type: "s", Direction: "out"},
					}},
				},
			},
			{
				Name:       ControlInterface,
				Methods:    introspect.Methods(c),
				Properties: props.Introspection(ControlInterface),
			},
		},
	}
}
