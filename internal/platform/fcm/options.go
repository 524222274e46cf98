package fcm

import (
	"encoding/json"
	"fmt"
	"regexp"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// bodyDataKey carries the body text inside the data payload. Android apps
// built against GCM read the text from here rather than from the notification block.
const bodyDataKey = "message"

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// draft is the FCM message under construction.
type draft struct {
	notification *messaging.Notification
	android      *messaging.AndroidConfig
	data         map[string]string
}

// optionTable maps generic option names to FCM Android settings.
var optionTable = dispatch.OptionTable[*draft]{
	dispatch.OptionTitle: func(d *draft, v any) error {
		title, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.notification.Title = title
		return nil
	},
	dispatch.OptionSound: func(d *draft, v any) error {
		sound, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.android.Notification.Sound = sound
		return nil
	},
	dispatch.OptionBadge: func(d *draft, v any) error {
		count, err := dispatch.AsInt(v)
		if err != nil {
			return err
		}
		if count < 0 {
			return fmt.Errorf("badge must be non-negative, got %d", count)
		}
		d.android.Notification.NotificationCount = &count
		return nil
	},
	dispatch.OptionExpiry: func(d *draft, v any) error {
		ttl, err := dispatch.AsSeconds(v)
		if err != nil {
			return err
		}
		d.android.TTL = &ttl
		return nil
	},
	dispatch.OptionPriority: func(d *draft, v any) error {
		p, err := dispatch.AsPriority(v)
		if err != nil {
			return err
		}
		d.android.Priority = string(p)
		return nil
	},
	"collapse_key": func(d *draft, v any) error {
		key, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.android.CollapseKey = key
		return nil
	},
	"icon": func(d *draft, v any) error {
		icon, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.android.Notification.Icon = icon
		return nil
	},
	"color": func(d *draft, v any) error {
		color, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		if !colorPattern.MatchString(color) {
			return fmt.Errorf("color must be #rrggbb, got %q", color)
		}
		d.android.Notification.Color = color
		return nil
	},
	"channel_id": func(d *draft, v any) error {
		channel, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.android.Notification.ChannelID = channel
		return nil
	},
}

// buildDraft translates a generic message into FCM structures.
func buildDraft(msg *dispatch.Message) (*draft, []dispatch.OptionWarning) {
	d := &draft{
		notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		android:      &messaging.AndroidConfig{Notification: &messaging.AndroidNotification{}},
		data:         make(map[string]string, len(msg.CustomPayload)+1),
	}
	for k, v := range msg.CustomPayload {
		d.data[k] = stringify(v)
	}
	d.data[bodyDataKey] = msg.Body

	warnings := optionTable.Apply(d, msg.ProviderOptions)
	return d, warnings
}

func (d *draft) message(token string) *messaging.Message {
	return &messaging.Message{
		Token:        token,
		Data:         d.data,
		Notification: d.notification,
		Android:      d.android,
	}
}

func (d *draft) multicast(tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         d.data,
		Notification: d.notification,
		Android:      d.android,
	}
}

// stringify renders a payload value for the string-only FCM data map.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case bool, int, int32, int64, float32, float64, json.Number:
		return fmt.Sprint(val)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
