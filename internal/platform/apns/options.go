package apns

import (
	"fmt"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"

	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// draft is the APNs notification under construction.
type draft struct {
	payload    *payload.Payload
	expiration time.Time
	priority   int
	collapseID string
	now        func() time.Time
}

// optionTable maps generic option names to apns2 setters.
var optionTable = dispatch.OptionTable[*draft]{
	dispatch.OptionBadge: func(d *draft, v any) error {
		badge, err := dispatch.AsInt(v)
		if err != nil {
			return err
		}
		if badge < 0 {
			return fmt.Errorf("badge must be non-negative, got %d", badge)
		}
		if badge == 0 {
			d.payload.ZeroBadge()
		} else {
			d.payload.Badge(badge)
		}
		return nil
	},
	dispatch.OptionSound: func(d *draft, v any) error {
		sound, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.payload.Sound(sound)
		return nil
	},
	dispatch.OptionExpiry: func(d *draft, v any) error {
		ttl, err := dispatch.AsSeconds(v)
		if err != nil {
			return err
		}
		d.expiration = d.now().Add(ttl)
		return nil
	},
	dispatch.OptionPriority: func(d *draft, v any) error {
		p, err := dispatch.AsPriority(v)
		if err != nil {
			return err
		}
		if p == dispatch.PriorityHigh {
			d.priority = apns2.PriorityHigh
		} else {
			d.priority = apns2.PriorityLow
		}
		return nil
	},
	dispatch.OptionTitle: func(d *draft, v any) error {
		title, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.payload.AlertTitle(title)
		return nil
	},
	"category": func(d *draft, v any) error {
		category, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.payload.Category(category)
		return nil
	},
	"thread_id": func(d *draft, v any) error {
		thread, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.payload.ThreadID(thread)
		return nil
	},
	"collapse_id": func(d *draft, v any) error {
		id, err := dispatch.AsString(v)
		if err != nil {
			return err
		}
		d.collapseID = id
		return nil
	},
	"content_available": func(d *draft, v any) error {
		on, err := dispatch.AsBool(v)
		if err != nil {
			return err
		}
		if on {
			d.payload.ContentAvailable()
		}
		return nil
	},
	"mutable_content": func(d *draft, v any) error {
		on, err := dispatch.AsBool(v)
		if err != nil {
			return err
		}
		if on {
			d.payload.MutableContent()
		}
		return nil
	},
}

// buildDraft translates a generic message into an APNs payload.
func buildDraft(msg *dispatch.Message, now func() time.Time) (*draft, []dispatch.OptionWarning) {
	d := &draft{
		payload: payload.NewPayload().AlertBody(msg.Body),
		now:     now,
	}
	if msg.Title != "" {
		d.payload.AlertTitle(msg.Title)
	}
	for k, v := range msg.CustomPayload {
		d.payload.Custom(k, v)
	}
	warnings := optionTable.Apply(d, msg.ProviderOptions)
	return d, warnings
}

func (d *draft) notification(deviceToken, topic string) *apns2.Notification {
	return &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       topic,
		Payload:     d.payload,
		Expiration:  d.expiration,
		Priority:    d.priority,
		CollapseID:  d.collapseID,
		PushType:    apns2.PushTypeAlert,
	}
}
