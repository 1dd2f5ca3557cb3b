// Package hub coordinates every live session of the chat room: the
// connection registry, the join handshake, history replay, broadcast
// fan-out, and command-driven ban administration.
//
// All shared state (sessions, history, bans) is owned by a single event
// goroutine. Connects, inbound frames, and disconnects are funneled into
// one channel and processed to completion in arrival order, so no
// mutation can be observed half-finished and no locks are needed on the
// registries themselves.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlorchat/parlor/internal/banlist"
	"github.com/parlorchat/parlor/internal/history"
	"github.com/parlorchat/parlor/internal/model"
	"github.com/parlorchat/parlor/internal/protocol"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventFrame
	eventDisconnect
)

type hubEvent struct {
	kind      eventKind
	client    *Client
	sessionID string
	raw       []byte
}

// Options configures a Hub.
type Options struct {
	MaxMessageSize int64
	RateBurst      int
	RateRefill     time.Duration
	EventQueue     int
}

// Hub owns all chat state for one process.
type Hub struct {
	sessions map[string]*Session
	history  *history.Store
	bans     *banlist.Registry
	metrics  *Metrics

	events chan hubEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	maxMessageSize int64
	rateBurst      int
	rateRefill     time.Duration

	now   func() time.Time
	newID func() string
}

// New creates a Hub ready to Run.
func New(opts Options) *Hub {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	if opts.RateRefill <= 0 {
		opts.RateRefill = time.Second
	}
	if opts.EventQueue <= 0 {
		opts.EventQueue = 512
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:       make(map[string]*Session),
		history:        history.NewStore(),
		bans:           banlist.NewRegistry(),
		metrics:        NewMetrics(),
		events:         make(chan hubEvent, opts.EventQueue),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		maxMessageSize: opts.MaxMessageSize,
		rateBurst:      opts.RateBurst,
		rateRefill:     opts.RateRefill,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}
}

// Metrics returns the hub's counters for the metrics endpoint.
func (h *Hub) Metrics() *Metrics {
	return h.metrics
}

// Connect hands a freshly upgraded connection to the hub. Called from the
// HTTP handler goroutine; everything else happens on the event loop.
func (h *Hub) Connect(conn *websocket.Conn, remoteAddr string) {
	id := h.newID()
	client := newClient(h, conn, id, addrFromRemote(remoteAddr))
	h.post(hubEvent{kind: eventConnect, client: client})
}

// Run processes events until Shutdown. It should be started in its own
// goroutine before the HTTP server begins accepting upgrades.
func (h *Hub) Run() {
	defer close(h.done)
	summary := time.NewTicker(5 * time.Minute)
	defer summary.Stop()
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			h.metrics.LogSummary()
			return
		case <-summary.C:
			h.metrics.LogSummary()
		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

// Shutdown stops the event loop and closes every connection. It returns
// once the loop has drained or the timeout elapses.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func (h *Hub) post(ev hubEvent) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}

func (h *Hub) handle(ev hubEvent) {
	switch ev.kind {
	case eventConnect:
		h.handleConnect(ev.client)
	case eventFrame:
		h.handleFrame(ev.sessionID, ev.raw)
	case eventDisconnect:
		h.handleDisconnect(ev.sessionID)
	}
}

// ----- connection lifecycle -----

func (h *Hub) handleConnect(client *Client) {
	h.metrics.TotalConnections.Add(1)

	if h.bans.IsAddressBanned(client.addr) {
		slog.Info("refused connection from banned address", "addr", client.addr)
		client.closePolicyViolation("banned")
		h.metrics.PolicyDisconnects.Add(1)
		return
	}

	sess := &Session{
		ID:     client.sessionID,
		Addr:   client.addr,
		State:  StateConnected,
		client: client,
	}
	h.sessions[sess.ID] = sess
	h.metrics.ActiveSessions.Add(1)
	slog.Debug("client connected", "addr", sess.Addr, "session", sess.ID)

	go client.writePump()
	go client.readPump()

	h.sendTo(sess.ID, protocol.RequestFingerprintEvent{Type: protocol.OutRequestFingerprint})
	sess.State = StateAwaitingVerification
}

func (h *Hub) handleDisconnect(id string) {
	sess := h.remove(id)
	if sess == nil {
		return
	}
	slog.Debug("client disconnected", "addr", sess.Addr, "user", sess.Profile.Username)
	if sess.Profile.Username != "" {
		h.broadcast(protocol.UserLeftEvent{Type: protocol.OutUserLeft, Username: sess.Profile.Username}, "")
		h.broadcastRoster()
	}
}

// remove takes a session out of the registry. Idempotent: removing an
// absent id is a no-op.
func (h *Hub) remove(id string) *Session {
	sess, ok := h.sessions[id]
	if !ok {
		return nil
	}
	delete(h.sessions, id)
	sess.State = StateTerminated
	sess.pendingJoin = nil
	if sess.client != nil {
		close(sess.client.send)
	}
	h.metrics.ActiveSessions.Add(-1)
	h.metrics.Disconnects.Add(1)
	return sess
}

// terminate force-closes a session with the policy-violation status and
// removes it. Any deferred join payload dies with the session. The close
// frame itself is written by the session's write pump after the send
// channel closes.
func (h *Hub) terminate(sess *Session, reason string) {
	if sess.client != nil {
		sess.client.closeCode = websocket.ClosePolicyViolation
		sess.client.closeText = reason
		h.metrics.PolicyDisconnects.Add(1)
	}
	h.remove(sess.ID)
}

// enforceBans disconnects every registered session whose address or
// fingerprint is banned, then refreshes the roster if anyone was removed.
func (h *Hub) enforceBans() {
	removed := 0
	for _, sess := range h.sessions {
		if sess.Fake {
			continue
		}
		if h.bans.IsAddressBanned(sess.Addr) ||
			(sess.Fingerprint != "" && h.bans.IsFingerprintBanned(sess.Fingerprint)) {
			slog.Info("disconnecting banned session", "addr", sess.Addr, "user", sess.Profile.Username)
			h.terminate(sess, "banned")
			removed++
		}
	}
	if removed > 0 {
		h.broadcastRoster()
	}
}

func (h *Hub) closeAll() {
	slog.Info("closing all client connections", "count", len(h.sessions))
	for id, sess := range h.sessions {
		delete(h.sessions, id)
		if sess.client != nil {
			close(sess.client.send)
			_ = sess.client.conn.Close()
		}
	}
}

// ----- inbound frame dispatch -----

func (h *Hub) handleFrame(id string, raw []byte) {
	sess, ok := h.sessions[id]
	if !ok {
		return // frame raced with removal
	}

	ev, err := protocol.DecodeEvent(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEventType) {
			slog.Warn("unrecognized event type", "addr", sess.Addr, "err", err)
		} else {
			h.metrics.MalformedFrames.Add(1)
			slog.Warn("malformed frame", "addr", sess.Addr, "err", err)
		}
		return
	}

	switch {
	case ev.Fingerprint != nil:
		h.handleFingerprint(sess, ev.Fingerprint)
	case ev.Join != nil:
		h.handleJoinRequest(sess, ev.Join)
	default:
		if !sess.Joined() {
			slog.Debug("event before join completed", "type", ev.Type, "addr", sess.Addr)
			return
		}
		h.dispatchJoined(sess, ev)
	}
}

func (h *Hub) dispatchJoined(sess *Session, ev *protocol.ClientEvent) {
	switch {
	case ev.Message != nil:
		h.handleMessage(sess, ev.Message)
	case ev.DM != nil:
		h.handleDM(sess, ev.DM)
	case ev.DMHistory != nil:
		h.handleGetDMHistory(sess, ev.DMHistory)
	case ev.Typing != nil:
		h.handleTyping(sess, ev.Typing)
	case ev.UpdateUser != nil:
		h.handleUpdateUser(sess, ev.UpdateUser)
	case ev.Cursor != nil:
		h.broadcast(protocol.CursorBroadcast{
			Type:     protocol.OutCursor,
			Username: sess.Profile.Username,
			X:        ev.Cursor.X,
			Y:        ev.Cursor.Y,
		}, sess.ID)
	case ev.Tabbed != nil:
		sess.Profile.Tabbed = ev.Tabbed.IsTabbed
		h.broadcastRoster()
	case ev.Edit != nil:
		h.handleEdit(sess, ev.Edit)
	case ev.Delete != nil:
		h.handleDelete(sess, ev.Delete)
	case ev.System != nil:
		h.broadcast(protocol.SystemBroadcast{
			Type:    protocol.OutSystemMessage,
			Message: model.SanitizeText(strings.TrimSpace(ev.System.Message)),
		}, "")
	case ev.FakeConnect != nil:
		h.handleFakeConnect(sess, ev.FakeConnect)
	case ev.FakeMessage != nil:
		h.handleFakeMessage(sess, ev.FakeMessage)
	case ev.FakeDisconnect != nil:
		h.handleFakeDisconnect(sess, ev.FakeDisconnect)
	}
}

// ----- join handshake -----

func (h *Hub) handleFingerprint(sess *Session, p *protocol.FingerprintEvent) {
	fp := strings.TrimSpace(p.Fingerprint)
	if fp == "" {
		slog.Warn("empty fingerprint submitted", "addr", sess.Addr)
		return
	}

	result := h.bans.TrackAssociation(sess.Addr, fp)
	if result == banlist.TrackEvasion {
		h.metrics.EvasionsDetected.Add(1)
	}

	if h.bans.IsFingerprintBanned(fp) || h.bans.IsAddressBanned(sess.Addr) {
		slog.Info("terminating banned session at verification",
			"addr", sess.Addr, "fingerprint", fp, "evasion", result == banlist.TrackEvasion)
		h.terminate(sess, "banned")
		return
	}

	sess.Fingerprint = fp
	if sess.State < StateVerified {
		sess.State = StateVerified
	}

	if sess.joinRequested && sess.pendingJoin != nil {
		req := sess.pendingJoin
		sess.pendingJoin = nil
		sess.joinRequested = false
		h.completeJoin(sess, req)
	}
}

func (h *Hub) handleJoinRequest(sess *Session, req *protocol.JoinRequest) {
	switch sess.State {
	case StateConnected, StateAwaitingVerification:
		// Defer until the fingerprint is verified. Only the latest
		// payload survives; a second join overwrites, never queues.
		sess.pendingJoin = req
		sess.joinRequested = true
	case StateVerified, StateJoined:
		h.completeJoin(sess, req)
	case StateTerminated:
	}
}

func (h *Hub) completeJoin(sess *Session, req *protocol.JoinRequest) {
	username := model.SanitizeText(strings.TrimSpace(req.Username))
	if err := model.ValidateUsername(username); err != nil {
		slog.Warn("join rejected", "addr", sess.Addr, "err", err)
		h.sendTo(sess.ID, protocol.ErrorEvent{Type: protocol.OutError, Error: err.Error()})
		return
	}

	sess.Profile.Username = username
	sess.Profile.Color = model.NormalizeColor(req.Color)
	sess.Profile.Website = model.SanitizeText(strings.TrimSpace(req.Website))
	sess.State = StateJoined
	h.metrics.Joins.Add(1)

	if !h.sendTo(sess.ID, protocol.HistoryEvent{Type: protocol.OutHistory, Messages: h.history.Public()}) {
		// Non-fatal: the session stays joined even if the snapshot
		// never made it out.
		slog.Warn("history snapshot delivery failed", "user", username)
	}

	h.broadcastRoster()
	h.broadcast(protocol.UserJoinedEvent{Type: protocol.OutUserJoined, User: sess.Profile}, sess.ID)
	slog.Info("user joined", "user", username, "addr", sess.Addr)
}

// ----- chat -----

func (h *Hub) handleMessage(sess *Session, p *protocol.MessageEvent) {
	content := model.SanitizeText(strings.TrimSpace(p.Content))

	if cmd, ok := parseCommand(content); ok {
		h.metrics.CommandsProcessed.Add(1)
		result, err := h.runCommand(sess.Profile.Username, cmd)
		out := protocol.CommandResultEvent{Type: protocol.OutCommandResult, Success: err == nil}
		if err != nil {
			out.Message = err.Error()
		} else {
			out.Message = result
		}
		// Command text is never broadcast; only the issuer hears back.
		h.sendTo(sess.ID, out)
		// Enforcement runs after the result is queued. A ban can sweep
		// the issuer's own session; the buffered result frame drains
		// before the write pump sees the channel close, so the issuer
		// still receives the outcome ahead of the close frame.
		if err == nil && (cmd.name == cmdBanAddr || cmd.name == cmdBanFP) {
			h.enforceBans()
		}
		return
	}

	if content == "" && len(p.Attachments) == 0 {
		return
	}

	msg := model.ChatMessage{
		ID:          h.newID(),
		Author:      sess.Profile.Username,
		Color:       sess.Profile.Color,
		Content:     model.TruncateContent(content),
		Timestamp:   h.now(),
		Attachments: p.Attachments,
		ReplyTo:     sanitizeReply(p.ReplyTo),
	}
	h.history.AppendPublic(msg)
	h.metrics.MessagesBroadcast.Add(1)
	h.broadcast(protocol.MessageBroadcast{Type: protocol.OutMessage, Message: msg}, "")
}

func sanitizeReply(r *model.ReplySnapshot) *model.ReplySnapshot {
	if r == nil {
		return nil
	}
	return &model.ReplySnapshot{
		Author:  model.SanitizeText(r.Author),
		Content: model.TruncateContent(model.SanitizeText(r.Content)),
	}
}

func (h *Hub) handleDM(sess *Session, p *protocol.DMMessageEvent) {
	target := h.findByUsername(p.TargetUsername)
	if target == nil {
		h.sendTo(sess.ID, protocol.DMErrorEvent{
			Type:  protocol.OutDMError,
			Error: "user not online: " + p.TargetUsername,
		})
		return
	}

	content := model.SanitizeText(strings.TrimSpace(p.Content))
	if content == "" && len(p.Attachments) == 0 {
		return
	}

	dm := model.DirectMessage{
		ChatMessage: model.ChatMessage{
			ID:          h.newID(),
			Author:      sess.Profile.Username,
			Color:       sess.Profile.Color,
			Content:     model.TruncateContent(content),
			Timestamp:   h.now(),
			Attachments: p.Attachments,
		},
		From: sess.Profile.Username,
		To:   target.Profile.Username,
	}
	h.history.AppendDM(sess.Addr, target.Addr, dm)
	h.metrics.DirectMessages.Add(1)

	out := protocol.DMMessageBroadcast{Type: protocol.OutDMMessage, Message: dm}
	h.sendTo(target.ID, out)
	if target.ID != sess.ID {
		h.sendTo(sess.ID, out)
	}
}

func (h *Hub) handleGetDMHistory(sess *Session, p *protocol.GetDMHistoryEvent) {
	target := h.findByUsername(p.TargetUsername)
	if target == nil {
		// The target's username must resolve through a currently
		// connected session before any thread is readable. Anything
		// else gets an empty sequence, never another pair's thread.
		h.sendTo(sess.ID, protocol.DMHistoryEvent{
			Type:     protocol.OutDMHistory,
			With:     p.TargetUsername,
			Messages: []model.DirectMessage{},
		})
		return
	}

	h.sendTo(sess.ID, protocol.DMHistoryEvent{
		Type:     protocol.OutDMHistory,
		With:     target.Profile.Username,
		Messages: h.history.DM(sess.Addr, target.Addr),
	})
}

func (h *Hub) handleTyping(sess *Session, p *protocol.TypingEvent) {
	if p.IsTyping && !sess.Profile.Typing {
		slog.Debug("user typing", "user", sess.Profile.Username)
	}
	sess.Profile.Typing = p.IsTyping
	h.broadcast(protocol.TypingBroadcast{
		Type:     protocol.OutTyping,
		Username: sess.Profile.Username,
		IsTyping: p.IsTyping,
	}, sess.ID)
}

func (h *Hub) handleUpdateUser(sess *Session, p *protocol.UpdateUserEvent) {
	username := model.SanitizeText(strings.TrimSpace(p.Username))
	if err := model.ValidateUsername(username); err != nil {
		h.sendTo(sess.ID, protocol.ErrorEvent{Type: protocol.OutError, Error: err.Error()})
		return
	}

	sess.Profile.Username = username
	sess.Profile.Color = model.NormalizeColor(p.Color)
	sess.Profile.Website = model.SanitizeText(strings.TrimSpace(p.Website))

	h.broadcast(protocol.UserUpdatedEvent{Type: protocol.OutUserUpdated, User: sess.Profile}, "")
	h.broadcastRoster()
}

func (h *Hub) handleEdit(sess *Session, p *protocol.EditMessageEvent) {
	newContent := model.TruncateContent(model.SanitizeText(strings.TrimSpace(p.NewContent)))
	updated, err := h.history.EditMessage(p.MessageID, newContent, sess.Profile.Username)
	if err != nil {
		slog.Warn("edit rejected", "user", sess.Profile.Username, "message", p.MessageID, "err", err)
		h.sendTo(sess.ID, protocol.ErrorEvent{Type: protocol.OutError, Error: err.Error()})
		return
	}
	h.broadcast(protocol.MessageEditedEvent{
		Type:       protocol.OutMessageEdited,
		MessageID:  updated.ID,
		NewContent: updated.Content,
		EditedAt:   updated.EditedAt,
	}, "")
}

func (h *Hub) handleDelete(sess *Session, p *protocol.DeleteMessageEvent) {
	updated, err := h.history.DeleteMessage(p.MessageID, sess.Profile.Username)
	if err != nil {
		slog.Warn("delete rejected", "user", sess.Profile.Username, "message", p.MessageID, "err", err)
		h.sendTo(sess.ID, protocol.ErrorEvent{Type: protocol.OutError, Error: err.Error()})
		return
	}
	h.broadcast(protocol.MessageDeletedEvent{
		Type:      protocol.OutMessageDeleted,
		MessageID: updated.ID,
	}, "")
}

// ----- fake sessions -----

func (h *Hub) handleFakeConnect(sess *Session, p *protocol.FakeConnectEvent) {
	username := model.SanitizeText(strings.TrimSpace(p.Username))
	if err := model.ValidateUsername(username); err != nil {
		h.sendTo(sess.ID, protocol.ErrorEvent{Type: protocol.OutError, Error: err.Error()})
		return
	}

	fake := &Session{
		ID:    h.newID(),
		Addr:  "fake:" + username,
		State: StateJoined,
		Fake:  true,
		Profile: model.Profile{
			Username: username,
			Color:    model.NormalizeColor(p.Color),
		},
	}
	h.sessions[fake.ID] = fake
	h.metrics.ActiveSessions.Add(1)
	slog.Info("fake session created", "user", username, "by", sess.Profile.Username)

	h.broadcastRoster()
	h.broadcast(protocol.UserJoinedEvent{Type: protocol.OutUserJoined, User: fake.Profile}, "")
}

func (h *Hub) handleFakeMessage(sess *Session, p *protocol.FakeMessageEvent) {
	content := model.SanitizeText(strings.TrimSpace(p.Message))
	if content == "" {
		return
	}
	msg := model.ChatMessage{
		ID:        h.newID(),
		Author:    model.SanitizeText(strings.TrimSpace(p.Username)),
		Color:     model.NormalizeColor(p.Color),
		Content:   model.TruncateContent(content),
		Timestamp: h.now(),
	}
	h.history.AppendPublic(msg)
	h.metrics.MessagesBroadcast.Add(1)
	h.broadcast(protocol.MessageBroadcast{Type: protocol.OutMessage, Message: msg}, "")
}

func (h *Hub) handleFakeDisconnect(sess *Session, p *protocol.FakeDisconnectEvent) {
	for _, candidate := range h.sessions {
		if candidate.Fake && candidate.Profile.Username == p.Username {
			h.remove(candidate.ID)
			h.broadcast(protocol.UserLeftEvent{Type: protocol.OutUserLeft, Username: p.Username}, "")
			h.broadcastRoster()
			return
		}
	}
	h.sendTo(sess.ID, protocol.ErrorEvent{
		Type:  protocol.OutError,
		Error: "no fake session named " + p.Username,
	})
}

// ----- delivery -----

// broadcast serializes the event once and attempts delivery to every
// session with a live channel except excludeID. A recipient that cannot
// accept the frame is purged on the spot and the fan-out continues; one
// bad recipient never aborts delivery to the rest. Fake sessions are
// skipped silently.
func (h *Hub) broadcast(event any, excludeID string) {
	payload, err := protocol.Encode(event)
	if err != nil {
		slog.Error("broadcast encode failed", "err", err)
		return
	}

	var failed []*Session
	for id, sess := range h.sessions {
		if id == excludeID || sess.client == nil {
			continue
		}
		if !trySend(sess.client, payload) {
			failed = append(failed, sess)
		}
	}

	for _, sess := range failed {
		h.metrics.BroadcastFailures.Add(1)
		slog.Warn("recipient purged after failed delivery", "addr", sess.Addr, "user", sess.Profile.Username)
		h.remove(sess.ID)
	}
}

// sendTo delivers one event to one session if its channel is live.
// Returns false (a no-op) for absent, fake, or saturated sessions.
func (h *Hub) sendTo(id string, event any) bool {
	sess, ok := h.sessions[id]
	if !ok || sess.client == nil {
		return false
	}
	payload, err := protocol.Encode(event)
	if err != nil {
		slog.Error("send encode failed", "err", err)
		return false
	}
	return trySend(sess.client, payload)
}

func trySend(client *Client, payload []byte) bool {
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) broadcastRoster() {
	profiles := h.listProfiles()
	h.broadcast(protocol.UserListEvent{
		Type:  protocol.OutUserList,
		Users: profiles,
		Count: len(profiles),
	}, "")
}

// listProfiles returns the roster: one profile per joined session,
// fake sessions included.
func (h *Hub) listProfiles() []model.Profile {
	profiles := make([]model.Profile, 0, len(h.sessions))
	for _, sess := range h.sessions {
		if sess.Joined() {
			profiles = append(profiles, sess.Profile)
		}
	}
	return profiles
}

func (h *Hub) findByUsername(username string) *Session {
	for _, sess := range h.sessions {
		if sess.Joined() && sess.Profile.Username == username {
			return sess
		}
	}
	return nil
}

// addrFromRemote extracts the host portion of a remote address. Peers
// whose address cannot be parsed are recorded under the literal token
// "unknown", which the ban commands accept as an address argument.
func addrFromRemote(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		if remoteAddr != "" && !strings.Contains(remoteAddr, ":") {
			return remoteAddr
		}
		return unknownAddress
	}
	return host
}
