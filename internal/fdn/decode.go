package fdn

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/time/rate"

	"notifyd/internal/notification"
	logx "notifyd/pkg/logx"
)

// NotifyCall is one Notify invocation as it came off the bus.
type NotifyCall struct {
	Sender        string
	AppName       string
	ReplacesID    uint32
	AppIcon       string
	Summary       string
	Body          string
	Actions       []string
	Hints         map[string]dbus.Variant
	ExpireTimeout int32
}

// Hint keys that carry a stack tag, first present wins.
var stackTagHints = []string{
	"synchronous",
	"private-synchronous",
	"x-canonical-private-synchronous",
	"x-notifyd-stack-tag",
}

// Raw image hint keys in probe order. Older clients use the underscore and
// icon_data spellings.
var imageHints = []string{"image-data", "image_data", "icon_data"}

const imageSignature = "(iiibiiay)"

// Decoder turns Notify calls into notifications. Type mismatches drop the
// single hint; the warning about it is rate limited per decoder.
type Decoder struct {
	log  logx.Logger
	warn *rate.Limiter
}

func NewDecoder(log logx.Logger) *Decoder {
	return &Decoder{
		log:  log,
		warn: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Decode never fails; a notification is always produced.
func (d *Decoder) Decode(c NotifyCall) *notification.Notification {
	n := notification.New()
	n.AppName = c.AppName
	n.ReplacesID = c.ReplacesID
	n.Icon = c.AppIcon
	n.Summary = c.Summary
	n.Body = c.Body
	n.Actions = notification.ParseActions(c.Actions)
	n.Client = c.Sender
	n.Valid = true
	n.Urgency = notification.UrgencyNormal

	if c.ExpireTimeout < 0 {
		n.Timeout = -1
	} else {
		n.Timeout = time.Duration(c.ExpireTimeout) * time.Millisecond
	}

	d.decodeHints(n, c.Hints)
	return n
}

func (d *Decoder) decodeHints(n *notification.Notification, hints map[string]dbus.Variant) {
	for key, v := range hints {
		switch key {
		case "urgency":
			if b, ok := v.Value().(byte); ok && b <= byte(notification.UrgencyCritical) {
				n.Urgency = notification.Urgency(b)
			} else {
				d.reject(n, key, v)
			}
		case "fgcolor":
			d.str(n, key, v, &n.Colors.FG)
		case "bgcolor":
			d.str(n, key, v, &n.Colors.BG)
		case "frcolor":
			d.str(n, key, v, &n.Colors.Frame)
		case "category":
			d.str(n, key, v, &n.Category)
		case "desktop-entry":
			d.str(n, key, v, &n.DesktopEntry)
		case "image-path", "image_path":
			d.str(n, key, v, &n.Icon)
		case "transient":
			switch t := v.Value().(type) {
			case bool:
				n.Transient = t
			case uint32:
				n.Transient = t > 0
			case int32:
				n.Transient = t > 0
			default:
				d.reject(n, key, v)
			}
		case "resident":
			if b, ok := v.Value().(bool); ok {
				n.Resident = b
			} else {
				d.reject(n, key, v)
			}
		case "value":
			switch t := v.Value().(type) {
			case int32:
				n.Progress = clampProgress(int64(t))
			case uint32:
				n.Progress = clampProgress(int64(t))
			default:
				d.reject(n, key, v)
			}
		}
	}

	for _, key := range stackTagHints {
		if v, ok := hints[key]; ok {
			if s, ok := v.Value().(string); ok {
				n.StackTag = s
				break
			}
			d.reject(n, key, v)
		}
	}

	for _, key := range imageHints {
		v, ok := hints[key]
		if !ok {
			continue
		}
		// A key of the wrong type counts as absent; a well-typed one decides.
		if v.Signature().String() != imageSignature {
			d.reject(n, key, v)
			continue
		}
		img, err := DecodeImage(v)
		if err != nil {
			d.warnf(n, key, err)
		} else {
			n.RawIcon = img
		}
		break
	}
}

func (d *Decoder) str(n *notification.Notification, key string, v dbus.Variant, dst *string) {
	if s, ok := v.Value().(string); ok {
		*dst = s
		return
	}
	d.reject(n, key, v)
}

func (d *Decoder) reject(n *notification.Notification, key string, v dbus.Variant) {
	d.warnf(n, key, fmt.Errorf("unexpected type %s", v.Signature()))
}

func (d *Decoder) warnf(n *notification.Notification, key string, err error) {
	if d.log.IsZero() || !d.warn.Allow() {
		return
	}
	d.log.Warn("hint dropped",
		logx.String("hint", key),
		logx.String("app", n.AppName),
		logx.String("client", n.Client),
		logx.Err(err),
	)
}

func clampProgress(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 100:
		return 100
	default:
		return int(v)
	}
}

// DecodeImage unpacks an (iiibiiay) image hint and validates its geometry
// against the buffer length.
func DecodeImage(v dbus.Variant) (*notification.RawImage, error) {
	if sig := v.Signature().String(); sig != imageSignature {
		return nil, fmt.Errorf("image: unexpected signature %s", sig)
	}
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) != 7 {
		return nil, fmt.Errorf("image: malformed struct")
	}
	img := &notification.RawImage{}
	var good bool
	if img.Width, good = fields[0].(int32); !good {
		return nil, fmt.Errorf("image: width is %T", fields[0])
	}
	if img.Height, good = fields[1].(int32); !good {
		return nil, fmt.Errorf("image: height is %T", fields[1])
	}
	if img.Rowstride, good = fields[2].(int32); !good {
		return nil, fmt.Errorf("image: rowstride is %T", fields[2])
	}
	if img.HasAlpha, good = fields[3].(bool); !good {
		return nil, fmt.Errorf("image: has_alpha is %T", fields[3])
	}
	if img.BitsPerSample, good = fields[4].(int32); !good {
		return nil, fmt.Errorf("image: bits_per_sample is %T", fields[4])
	}
	if img.Channels, good = fields[5].(int32); !good {
		return nil, fmt.Errorf("image: channels is %T", fields[5])
	}
	if img.Data, good = fields[6].([]byte); !good {
		return nil, fmt.Errorf("image: data is %T", fields[6])
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Capabilities lists what GetCapabilities advertises. body-markup only shows
// up while markup is enabled.
func Capabilities(markup notification.Markup) []string {
	caps := []string{"actions", "body", "body-hyperlinks"}
	caps = append(caps, stackTagHints...)
	if markup != notification.MarkupNo && markup != notification.MarkupNull {
		caps = append(caps, "body-markup")
	}
	return caps
}
