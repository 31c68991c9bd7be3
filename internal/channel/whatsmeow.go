package channel

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdp/qrterminal"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// WhatsmeowClient adapts a whatsmeow session to the Client interface. The
// session (device keys, server state) lives in a local sqlite container;
// pairing happens through a QR code printed to the terminal.
type WhatsmeowClient struct {
	sessionDBPath string
	log           *logrus.Logger
	client        *whatsmeow.Client
	events        chan Event
	// pacer caps the overall outbound rate to stay clear of channel-imposed
	// throttling. Per-recipient quotas are enforced upstream.
	pacer *rate.Limiter
}

func NewWhatsmeowClient(sessionDBPath string, log *logrus.Logger) *WhatsmeowClient {
	return &WhatsmeowClient{
		sessionDBPath: sessionDBPath,
		log:           log,
		events:        make(chan Event, 64),
		pacer:         rate.NewLimiter(rate.Limit(1), 3), // 1 msg/s, burst 3
	}
}

func (w *WhatsmeowClient) Events() <-chan Event {
	return w.events
}

// Connect opens (or creates) the session container and starts the websocket
// connection. First-time pairing emits a QR code and completes out of band;
// readiness is reported on the event channel.
func (w *WhatsmeowClient) Connect(ctx context.Context) error {
	if w.client == nil {
		if err := os.MkdirAll(filepath.Dir(w.sessionDBPath), 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		dbLog := waLog.Stdout("Session", "WARN", false)
		container, err := sqlstore.New(ctx, "sqlite3", "file:"+w.sessionDBPath+"?_foreign_keys=on", dbLog)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		device, err := container.GetFirstDevice(ctx)
		if err == sql.ErrNoRows {
			device = container.NewDevice()
		} else if err != nil {
			return fmt.Errorf("load device: %w", err)
		}
		w.client = whatsmeow.NewClient(device, waLog.Stdout("Client", "WARN", false))
		w.client.AddEventHandler(w.handleEvent)
	}

	if w.client.Store.ID == nil {
		// No stored credentials: pair via QR before the socket can be used.
		qrChan, _ := w.client.GetQRChannel(ctx)
		if err := w.client.Connect(); err != nil {
			return err
		}
		go w.pairLoop(qrChan)
		return nil
	}

	return w.client.Connect()
}

func (w *WhatsmeowClient) pairLoop(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			w.log.Info("scan the QR code below to authenticate the session")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
		case "success":
			w.emit(Event{Kind: EventAuthenticated})
			return
		case "timeout":
			w.emit(Event{Kind: EventAuthFailure, Reason: "QR pairing timed out"})
			return
		default:
			w.emit(Event{Kind: EventAuthFailure, Reason: "QR pairing failed: " + evt.Event})
			return
		}
	}
}

func (w *WhatsmeowClient) Disconnect() {
	if w.client != nil {
		w.client.Disconnect()
	}
}

// Send delivers a text message to a phone identifier (or full JID).
func (w *WhatsmeowClient) Send(ctx context.Context, recipient, text string) (*SentMessage, error) {
	if w.client == nil {
		return nil, fmt.Errorf("channel client not connected")
	}
	if err := w.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	jid, err := parseRecipient(recipient)
	if err != nil {
		return nil, err
	}

	resp, err := w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", recipient, err)
	}
	return &SentMessage{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func parseRecipient(recipient string) (types.JID, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return types.EmptyJID, fmt.Errorf("empty recipient")
	}
	if strings.Contains(recipient, "@") {
		return types.ParseJID(recipient)
	}
	return types.NewJID(strings.TrimPrefix(recipient, "+"), types.DefaultUserServer), nil
}

func (w *WhatsmeowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		w.emit(Event{Kind: EventReady})
	case *events.PairSuccess:
		w.emit(Event{Kind: EventAuthenticated})
	case *events.LoggedOut:
		w.emit(Event{Kind: EventAuthFailure, Reason: fmt.Sprintf("logged out by server (%v)", v.Reason)})
	case *events.Disconnected:
		w.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	case *events.Message:
		if m := w.translateMessage(v); m != nil {
			w.emit(Event{Kind: EventMessage, Message: m})
		}
	case *events.Receipt:
		level := translateReceipt(v.Type)
		for _, id := range v.MessageIDs {
			w.emit(Event{Kind: EventAck, Ack: &AckEvent{NativeID: string(id), Level: level}})
		}
	}
}

// translateMessage maps a whatsmeow message event to the channel-neutral
// shape. Group chats, own messages and empty payloads are ignored; this
// engine only automates one-to-one conversations.
func (w *WhatsmeowClient) translateMessage(v *events.Message) *InboundMessage {
	if v.Info.IsFromMe {
		return nil
	}
	if v.Info.Chat.Server != types.DefaultUserServer {
		return nil
	}

	body := v.Message.GetConversation()
	replyTo := ""
	if ext := v.Message.GetExtendedTextMessage(); ext != nil {
		if body == "" {
			body = ext.GetText()
		}
		replyTo = ext.GetContextInfo().GetStanzaID()
	}

	hasMedia := v.Message.GetImageMessage() != nil ||
		v.Message.GetVideoMessage() != nil ||
		v.Message.GetAudioMessage() != nil ||
		v.Message.GetDocumentMessage() != nil ||
		v.Message.GetStickerMessage() != nil

	if body == "" && !hasMedia {
		return nil
	}

	return &InboundMessage{
		NativeID:        string(v.Info.ID),
		Sender:          v.Info.Sender.User,
		SenderName:      v.Info.PushName,
		Body:            body,
		Timestamp:       v.Info.Timestamp,
		HasMedia:        hasMedia,
		ReplyToNativeID: replyTo,
	}
}

func translateReceipt(t types.ReceiptType) string {
	switch t {
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return AckRead
	case types.ReceiptTypePlayed:
		return AckPlayed
	default:
		return AckDelivered
	}
}

func (w *WhatsmeowClient) emit(ev Event) {
	select {
	case w.events <- ev:
	default:
		w.log.WithField("kind", ev.Kind).Warn("channel event buffer full, dropping event")
	}
}

var _ Client = (*WhatsmeowClient)(nil)
