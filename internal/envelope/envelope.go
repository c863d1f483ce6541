// Package envelope encodes events into the newline delimited envelope wire
// format: one header line, then per item a header line followed by the raw
// payload.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/your-org/roadrunner-sentry/internal/dsn"
	"github.com/your-org/roadrunner-sentry/internal/protocol"
)

// ContentType is the media type of an encoded envelope.
const ContentType = "application/x-sentry-envelope"

// Item types that do not correspond to an event kind.
const (
	TypeAttachment = "attachment"
)

const (
	logItemsContentType  = "application/vnd.sentry.items.log+json"
	spanItemsContentType = "application/vnd.sentry.items.span.v2+json"
	jsonContentType      = "application/json"
)

// Header is the first line of an envelope.
type Header struct {
	EventID protocol.EventID  `json:"event_id,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
	DSN     string            `json:"dsn,omitempty"`
	SDK     *protocol.SDKInfo `json:"sdk,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

// ItemHeader precedes every item payload. Length is always set from the
// payload when encoding.
type ItemHeader struct {
	Type           string `json:"type"`
	Length         int    `json:"length"`
	ContentType    string `json:"content_type,omitempty"`
	ItemCount      int    `json:"item_count,omitempty"`
	Filename       string `json:"filename,omitempty"`
	AttachmentType string `json:"attachment_type,omitempty"`
}

// Item is one typed payload.
type Item struct {
	Header  ItemHeader
	Payload []byte
}

// Category returns the data category the item is rate limited under.
func (i Item) Category() protocol.Category {
	return protocol.CategoryFromItemType(i.Header.Type)
}

// Quantity is the number of telemetry units carried by the item.
func (i Item) Quantity() int64 {
	if i.Header.ItemCount > 0 {
		return int64(i.Header.ItemCount)
	}
	return 1
}

// Envelope is a header plus its items.
type Envelope struct {
	Header Header
	Items  []Item
}

// Encode renders the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return Encode(e.Header, e.Items)
}

// Encode renders header and items in wire format.
func Encode(header Header, items []Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	// Encoder.Encode terminates every value with a newline.
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("envelope header: %w", err)
	}
	for _, item := range items {
		h := item.Header
		h.Length = len(item.Payload)
		if err := enc.Encode(h); err != nil {
			return nil, fmt.Errorf("envelope item %q header: %w", h.Type, err)
		}
		buf.Write(item.Payload)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// FromEvent builds the envelope carrying ev and its attachments.
func FromEvent(ev *protocol.Event, d *dsn.Dsn, sdk protocol.SDKInfo, now time.Time) (*Envelope, error) {
	item, err := eventItem(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}

	env := &Envelope{
		Header: Header{
			SentAt: now.UTC(),
			SDK:    &sdk,
			Trace:  ev.DynamicSamplingContext,
		},
		Items: []Item{item},
	}
	if d != nil {
		env.Header.DSN = d.String()
	}
	if carriesEventID(ev.Kind) {
		env.Header.EventID = ev.ID
	}

	for _, a := range ev.Attachments {
		env.Items = append(env.Items, AttachmentItem(a))
	}
	return env, nil
}

// AttachmentItem wraps a file as an attachment item.
func AttachmentItem(a *protocol.Attachment) Item {
	typ := a.AttachmentType
	if typ == "" {
		typ = "event.attachment"
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Item{
		Header: ItemHeader{
			Type:           TypeAttachment,
			Filename:       a.Filename,
			ContentType:    contentType,
			AttachmentType: typ,
		},
		Payload: a.Payload,
	}
}

func carriesEventID(k protocol.Kind) bool {
	switch k {
	case protocol.KindError, protocol.KindTransaction, protocol.KindCheckIn, protocol.KindProfile:
		return true
	}
	return false
}

type itemList[T any] struct {
	Items []T `json:"items"`
}

func eventItem(ev *protocol.Event) (Item, error) {
	var (
		payload []byte
		err     error
		header  = ItemHeader{Type: string(ev.Kind)}
	)

	switch ev.Kind {
	case protocol.KindError, protocol.KindTransaction:
		payload, err = json.Marshal(ev)
	case protocol.KindLog:
		payload, err = json.Marshal(itemList[*protocol.Log]{Items: ev.Logs})
		header.ContentType = logItemsContentType
		header.ItemCount = len(ev.Logs)
	case protocol.KindMetric:
		payload = protocol.EncodeStatsd(ev.MetricBuckets)
	case protocol.KindSpan:
		payload, err = json.Marshal(itemList[*protocol.Span]{Items: ev.SpanItems})
		header.ContentType = spanItemsContentType
		header.ItemCount = len(ev.SpanItems)
	case protocol.KindProfile, protocol.KindProfileChunk:
		if len(ev.Profile) == 0 {
			err = errors.New("empty profile")
		}
		payload = ev.Profile
		header.ContentType = jsonContentType
	case protocol.KindClientReport:
		if ev.ClientReport == nil {
			err = errors.New("missing client report")
		}
		payload, err = marshalUnlessErr(ev.ClientReport, err)
	case protocol.KindCheckIn:
		if ev.CheckIn == nil {
			err = errors.New("missing check-in")
		}
		payload, err = marshalUnlessErr(ev.CheckIn, err)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	if err != nil {
		return Item{}, err
	}
	return Item{Header: header, Payload: payload}, nil
}

func marshalUnlessErr(v any, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
