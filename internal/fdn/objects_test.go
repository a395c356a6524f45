package fdn

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"notifyd/internal/notification"
)

func TestExportedObjects(t *testing.T) {
	t.Parallel()
	h := startServer(t, defaultSettings())
	n := &notifications{srv: h.srv}
	c := &control{srv: h.srv}

	name, vendor, version, specV, derr := n.GetServerInformation()
	require.Nil(t, derr)
	require.Equal(t, []string{"notifyd", "notifyd", Version, "1.2"}, []string{name, vendor, version, specV})

	caps, derr := n.GetCapabilities()
	require.Nil(t, derr)
	require.NotContains(t, caps, "body-markup")

	from := dbus.Sender(":1.42")
	var msg dbus.Message
	id, derr := n.Notify(from, msg, "mail", 0, "", "subject", "text",
		[]string{"default", "Open"},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(2))}, 0)
	require.Nil(t, derr)
	require.NotZero(t, id)

	snap := h.snapshot(t)
	require.Len(t, snap.Displayed, 1)
	require.Equal(t, ":1.42", snap.Displayed[0].Client)
	require.Equal(t, notification.UrgencyCritical, snap.Displayed[0].Urgency)

	require.Nil(t, c.InvokeAction(from, msg, id, "default"))
	require.Nil(t, n.CloseNotification(from, msg, id))
	require.Nil(t, c.CloseTop(from, msg))
	require.Nil(t, c.CloseAll(from, msg))
	require.Nil(t, c.HistoryPop(from, msg))
	require.Nil(t, c.SetFullscreen(from, msg, false))

	got := h.emit.all()
	require.Equal(t, "action", got[0].name)
	require.Equal(t, "closed", got[1].name)
	require.Equal(t, notification.ReasonDismissed, got[1].reason)
	for _, s := range got {
		require.Equal(t, ":1.42", s.client)
	}
}
