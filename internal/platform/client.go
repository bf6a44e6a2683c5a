// internal/platform/client.go
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeeper/internal/common/logger"
	"gatekeeper/internal/intake"
	"gatekeeper/internal/models"
)

// frame is the unit of the gateway wire protocol: one JSON object per line.
// Requests carry ID; responses echo it in ReplyTo; events carry neither.
type frame struct {
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MessageEvent is an inbound chat message from the gateway.
type MessageEvent struct {
	ChannelID string `json:"channelId"`
	OriginID  string `json:"originId,omitempty"`
	AuthorID  string `json:"authorId"`
	Content   string `json:"content"`
}

// ControlEvent is a click on a message control.
type ControlEvent struct {
	InteractionID string `json:"interactionId"`
	Token         string `json:"token"`
	UserID        string `json:"userId"`
	ChannelID     string `json:"channelId"`
}

// MessageHandler receives guild messages not claimed by an open direct
// channel.
type MessageHandler func(ctx context.Context, ev MessageEvent)

// ControlHandler receives control clicks.
type ControlHandler func(ctx context.Context, ev ControlEvent)

// Client speaks the gateway protocol over a single connection. It implements
// the transport interfaces the engine depends on: direct channels for intake,
// decision-request posting for review, and ack/role/permission/notify calls
// for decisions.
type Client struct {
	conn   net.Conn
	logger logger.Logger

	requestTimeout time.Duration

	writeMu sync.Mutex
	enc     *json.Encoder

	pendingMu sync.Mutex
	pending   map[string]chan frame

	dmMu sync.Mutex
	dms  map[string]chan intake.InboundMessage

	onMessage MessageHandler
	onControl ControlHandler
}

// Dial connects to the gateway bridge.
func Dial(address string, requestTimeout time.Duration, log logger.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", address, requestTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", address, err)
	}
	return NewClient(conn, requestTimeout, log), nil
}

// NewClient wraps an established connection. Run must be called before any
// request is issued.
func NewClient(conn net.Conn, requestTimeout time.Duration, log logger.Logger) *Client {
	return &Client{
		conn:           conn,
		logger:         log.WithFields(map[string]interface{}{"component": "platform"}),
		requestTimeout: requestTimeout,
		enc:            json.NewEncoder(conn),
		pending:        make(map[string]chan frame),
		dms:            make(map[string]chan intake.InboundMessage),
	}
}

// OnMessage registers the guild message handler. Must be set before Run.
func (c *Client) OnMessage(h MessageHandler) { c.onMessage = h }

// OnControl registers the control click handler. Must be set before Run.
func (c *Client) OnControl(h ControlHandler) { c.onControl = h }

// Run reads frames until the connection drops or ctx is cancelled. Responses
// complete their pending request; events dispatch to the registered handlers
// in their own goroutine so a long intake session cannot stall the reader.
func (c *Client) Run(ctx context.Context) error {
	defer c.failPending()

	dec := json.NewDecoder(c.conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fmt.Errorf("gateway read: %w", err)
		}

		if f.ReplyTo != "" {
			c.deliverReply(f)
			continue
		}
		c.dispatchEvent(ctx, f)
	}
}

// Close tears down the connection, failing all pending requests.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) deliverReply(f frame) {
	c.pendingMu.Lock()
	waiter, ok := c.pending[f.ReplyTo]
	delete(c.pending, f.ReplyTo)
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("reply for unknown request", map[string]interface{}{"replyTo": f.ReplyTo})
		return
	}
	waiter <- f
}

func (c *Client) dispatchEvent(ctx context.Context, f frame) {
	switch f.Type {
	case "message":
		var ev MessageEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			c.logger.Warn("malformed message event", map[string]interface{}{"error": err})
			return
		}
		if c.routeToDirectChannel(ev) {
			return
		}
		if c.onMessage != nil {
			go c.onMessage(ctx, ev)
		}
	case "control_click":
		var ev ControlEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			c.logger.Warn("malformed control event", map[string]interface{}{"error": err})
			return
		}
		if c.onControl != nil {
			go c.onControl(ctx, ev)
		}
	default:
		c.logger.Debug("ignoring unknown event", map[string]interface{}{"type": f.Type})
	}
}

func (c *Client) routeToDirectChannel(ev MessageEvent) bool {
	c.dmMu.Lock()
	replies, ok := c.dms[ev.ChannelID]
	c.dmMu.Unlock()
	if !ok {
		return false
	}
	select {
	case replies <- intake.InboundMessage{AuthorID: ev.AuthorID, Content: ev.Content}:
	default:
		c.logger.Warn("direct channel backlog full, dropping message", map[string]interface{}{
			"channelId": ev.ChannelID,
		})
	}
	return true
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, waiter := range c.pending {
		close(waiter)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	// Closing the reply channels unblocks any sessions mid-question.
	c.dmMu.Lock()
	for id, replies := range c.dms {
		close(replies)
		delete(c.dms, id)
	}
	c.dmMu.Unlock()
}

// request performs one correlated round trip.
func (c *Client) request(ctx context.Context, reqType string, payload interface{}, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", reqType, err)
	}

	id := uuid.New().String()
	waiter := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = waiter
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.enc.Encode(frame{ID: id, Type: reqType, Payload: raw})
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("write %s request: %w", reqType, err)
	}

	timeout := c.requestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		c.abandon(id)
		return ctx.Err()
	case <-timer.C:
		c.abandon(id)
		return fmt.Errorf("%s request timed out", reqType)
	case reply, open := <-waiter:
		if !open {
			return fmt.Errorf("gateway connection lost during %s", reqType)
		}
		if reply.Error != "" {
			return fmt.Errorf("gateway %s: %s", reqType, reply.Error)
		}
		if out != nil && len(reply.Payload) > 0 {
			if err := json.Unmarshal(reply.Payload, out); err != nil {
				return fmt.Errorf("decode %s response: %w", reqType, err)
			}
		}
		return nil
	}
}

func (c *Client) abandon(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

type openDirectRequest struct {
	CandidateID string `json:"candidateId"`
}

type openDirectResponse struct {
	ChannelID string `json:"channelId"`
}

type sendMessageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

type postReviewRequest struct {
	SurfaceID string                 `json:"surfaceId"`
	Request   models.DecisionRequest `json:"request"`
}

type postReviewResponse struct {
	MessageID string `json:"messageId"`
}

type ackControlRequest struct {
	InteractionID string `json:"interactionId"`
}

type grantRoleRequest struct {
	OriginID    string `json:"originId"`
	CandidateID string `json:"candidateId"`
	RoleID      string `json:"roleId"`
}

type checkPermissionRequest struct {
	UserID   string `json:"userId"`
	OriginID string `json:"originId"`
}

type checkPermissionResponse struct {
	Allowed bool `json:"allowed"`
}

// OpenDirectChannel opens a private channel to the candidate and registers it
// for reply routing.
func (c *Client) OpenDirectChannel(ctx context.Context, candidateID string) (intake.DirectChannel, error) {
	var resp openDirectResponse
	if err := c.request(ctx, "open_direct", openDirectRequest{CandidateID: candidateID}, &resp); err != nil {
		return nil, err
	}

	replies := make(chan intake.InboundMessage, 16)
	c.dmMu.Lock()
	c.dms[resp.ChannelID] = replies
	c.dmMu.Unlock()

	return &directChannel{client: c, channelID: resp.ChannelID, replies: replies}, nil
}

// PostDecisionRequest posts a decision request to a review surface.
func (c *Client) PostDecisionRequest(ctx context.Context, surfaceID string, req models.DecisionRequest) (string, error) {
	var resp postReviewResponse
	if err := c.request(ctx, "post_review", postReviewRequest{SurfaceID: surfaceID, Request: req}, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// PostToSurface sends a plain-text message to a channel or review surface.
func (c *Client) PostToSurface(ctx context.Context, surfaceID, text string) error {
	return c.request(ctx, "send_message", sendMessageRequest{ChannelID: surfaceID, Content: text}, nil)
}

// AckControl acknowledges a control interaction.
func (c *Client) AckControl(ctx context.Context, interactionID string) error {
	return c.request(ctx, "ack_control", ackControlRequest{InteractionID: interactionID}, nil)
}

// GrantRole assigns a role to the candidate within the origin.
func (c *Client) GrantRole(ctx context.Context, originID, candidateID, roleID string) error {
	return c.request(ctx, "grant_role", grantRoleRequest{
		OriginID:    originID,
		CandidateID: candidateID,
		RoleID:      roleID,
	}, nil)
}

// NotifyCandidate delivers a direct message without keeping a channel open.
func (c *Client) NotifyCandidate(ctx context.Context, candidateID, text string) error {
	var resp openDirectResponse
	if err := c.request(ctx, "open_direct", openDirectRequest{CandidateID: candidateID}, &resp); err != nil {
		return err
	}
	return c.request(ctx, "send_message", sendMessageRequest{ChannelID: resp.ChannelID, Content: text}, nil)
}

// CanDecide asks the gateway whether the user holds administrative capability
// over the origin. Ownership overrides are resolved gateway-side.
func (c *Client) CanDecide(ctx context.Context, reviewerID, originID string) (bool, error) {
	var resp checkPermissionResponse
	if err := c.request(ctx, "check_permission", checkPermissionRequest{UserID: reviewerID, OriginID: originID}, &resp); err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// directChannel is one open private conversation.
type directChannel struct {
	client    *Client
	channelID string
	replies   chan intake.InboundMessage

	closeOnce sync.Once
}

func (d *directChannel) Send(ctx context.Context, text string) error {
	return d.client.request(ctx, "send_message", sendMessageRequest{ChannelID: d.channelID, Content: text}, nil)
}

func (d *directChannel) Replies() <-chan intake.InboundMessage {
	return d.replies
}

func (d *directChannel) Close() error {
	d.closeOnce.Do(func() {
		d.client.dmMu.Lock()
		delete(d.client.dms, d.channelID)
		d.client.dmMu.Unlock()
	})
	return nil
}
