// Package capture implements the conversation-aware buffering engine.
//
// The [Engine] receives finished utterances and session membership changes
// from the event source. Each utterance is filtered, then either forwarded
// live (the responder is in the active session) or stored per participant
// until that participant joins a session, at which point the whole backlog is
// replayed as one message and removed.
//
// All exported methods are safe for concurrent use. State changes happen
// under one engine-wide mutex; forwarding and cue delivery happen after it is
// released, so a slow remote service never stalls capture. Event-path
// methods never return errors: failures are logged and swallowed.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/filter"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/forward"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/persist"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/tracker"
)

// Cue texts emitted through the [Notifier].
const (
	CueStored      = "stored line for later"
	CueSent        = "sent to service"
	CueSourceError = "dialogue tracking error"
)

// Notifier receives best-effort, user-visible cues. Implementations must not
// block; a dropped cue never affects engine state.
type Notifier interface {
	Cue(ctx context.Context, text string)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, text string)

// Cue calls f(ctx, text).
func (f NotifierFunc) Cue(ctx context.Context, text string) { f(ctx, text) }

// Engine is the capture state machine. Create one with [New].
type Engine struct {
	mu sync.Mutex

	settings Settings
	filter   *filter.Filter
	ignore   map[string]struct{}

	store   *pending.Store
	tracker *tracker.Tracker

	// cursor is the speaker text of the last processed exchange.
	cursor string

	// hasError is set once by ReportSourceUnavailable and never cleared.
	hasError bool

	forwarder forward.Forwarder
	notifier  Notifier
	metrics   *observe.Metrics
}

// Option configures an [Engine] during construction.
type Option func(*Engine)

// WithForwarder sets the outbound forwarder. Without one, messages are
// discarded.
func WithForwarder(f forward.Forwarder) Option {
	return func(e *Engine) { e.forwarder = f }
}

// WithNotifier sets the cue sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSettings sets the initial dialogue rules. Default: [DefaultSettings].
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.applySettings(s) }
}

// New returns an engine with an empty pending store and no active session.
func New(opts ...Option) *Engine {
	e := &Engine{
		store:     pending.New(),
		tracker:   tracker.New(),
		forwarder: forward.Func(func(context.Context, forward.Message) error { return nil }),
		notifier:  NotifierFunc(func(context.Context, string) {}),
	}
	e.applySettings(DefaultSettings())
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// outbox collects the side effects of one transition so they can run after
// the lock is released.
type outbox struct {
	messages []forward.Message
	cues     []string
}

// ── Event path ──────────────────────────────────────────────────────────────

// CaptureUtterance processes one finished exchange reported by the event
// source.
func (e *Engine) CaptureUtterance(ctx context.Context, u dialogue.Utterance) {
	ctx, span := observe.StartSpan(ctx, "capture.utterance",
		trace.WithAttributes(observe.Participant(uint32(u.ResponderID))),
	)
	defer span.End()

	e.mu.Lock()
	out := e.captureLocked(ctx, u)
	e.mu.Unlock()

	e.dispatch(ctx, out)
}

func (e *Engine) captureLocked(ctx context.Context, u dialogue.Utterance) outbox {
	var out outbox
	if !e.settings.Enabled {
		return out
	}
	log := observe.Logger(ctx).With("participant", u.ResponderID.String(), "responder", u.ResponderName)

	if u.SpeakerText == "" {
		e.reject(ctx, log, "empty_speaker_text")
		return out
	}
	response := dialogue.JoinFragments(u.ResponseFragments)
	if !validText(u.SpeakerText, response, u.SpeakerName, u.ResponderName) {
		e.reject(ctx, log, "invalid_utf8")
		return out
	}
	if _, ok := e.ignore[u.ResponderName]; ok {
		e.reject(ctx, log, "ignored_responder")
		return out
	}
	e.metrics.ExchangesCaptured.Add(ctx, 1)

	in := filter.Input{
		SpeakerText:     u.SpeakerText,
		ResponseText:    response,
		SayOnce:         u.SayOnce,
		LastSpeakerText: e.cursor,
	}
	reason := e.filter.Decide(in)
	e.cursor = u.SpeakerText

	if e.settings.Debug {
		for _, h := range e.filter.NearMisses(in) {
			log.Info("line resembles blacklist entry",
				"list", h.List, "text", h.Text, "entry", h.Entry, "score", h.Score)
		}
	}
	if reason.Suppressed() {
		e.metrics.RecordSuppressed(ctx, reason.String())
		log.Log(ctx, e.traceLevel(), "exchange suppressed",
			"reason", reason.String(), "speaker_text", u.SpeakerText)
		return out
	}

	ex := dialogue.Exchange{
		SpeakerText:   u.SpeakerText,
		SpeakerName:   u.SpeakerName,
		ResponseText:  response,
		ResponderName: u.ResponderName,
		Timestamp:     u.Timestamp,
	}
	if ex.SpeakerName == "" {
		ex.SpeakerName = e.settings.PlayerName
	}
	if ex.ResponderName == "" {
		ex.ResponderName = dialogue.DefaultResponderName
	}

	active, member := e.membershipLocked(u.ResponderID)
	switch {
	case !active:
		e.bufferLocked(ctx, u.ResponderID, ex)
		out.cues = append(out.cues, CueStored)
		log.Log(ctx, e.traceLevel(), "exchange buffered", "degraded", e.hasError)
	case member:
		out.messages = append(out.messages, liveMessage(ex))
		out.cues = append(out.cues, CueSent)
		log.Log(ctx, e.traceLevel(), "exchange forwarded live")
	default:
		out.messages = append(out.messages, liveMessage(ex))
		out.cues = append(out.cues, CueSent)
		if e.settings.RetainNonParticipantLines {
			e.bufferLocked(ctx, u.ResponderID, ex)
		}
		log.Log(ctx, e.traceLevel(), "exchange forwarded live from non-participant",
			"retained", e.settings.RetainNonParticipantLines)
	}
	e.recordStateLocked(ctx)
	return out
}

// NotifySessionSnapshot replaces the tracked participant set and replays the
// backlog of every participant that was not in the previous set.
func (e *Engine) NotifySessionSnapshot(ctx context.Context, ids []dialogue.ParticipantID) {
	ctx, span := observe.StartSpan(ctx, "capture.session_snapshot",
		trace.WithAttributes(observe.AttrParticipants.Int(len(ids))),
	)
	defer span.End()

	e.mu.Lock()
	var out outbox
	joined := e.tracker.UpdateSnapshot(ids)
	if !e.hasError {
		for _, id := range joined {
			e.flushLocked(ctx, id, &out)
		}
	}
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	observe.Logger(ctx).Debug("session snapshot updated",
		"participants", len(ids), "joined", len(joined), "replays", len(out.messages))
	e.dispatch(ctx, out)
}

// NotifySessionEnded clears the participant set. Buffered lines are kept for
// a future session.
func (e *Engine) NotifySessionEnded(ctx context.Context) {
	e.mu.Lock()
	e.tracker.Clear()
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	observe.Logger(ctx).Debug("session ended")
}

// NotifyParticipantJoined adds id to the participant set and replays its
// backlog, if any.
func (e *Engine) NotifyParticipantJoined(ctx context.Context, id dialogue.ParticipantID) {
	ctx, span := observe.StartSpan(ctx, "capture.participant_joined",
		trace.WithAttributes(observe.Participant(uint32(id))),
	)
	defer span.End()

	e.mu.Lock()
	var out outbox
	e.tracker.Add(id)
	if !e.hasError {
		e.flushLocked(ctx, id, &out)
	}
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	e.dispatch(ctx, out)
}

// NotifyParticipantLeft removes id from the participant set. Its buffered
// lines, if any, are kept.
func (e *Engine) NotifyParticipantLeft(ctx context.Context, id dialogue.ParticipantID) {
	e.mu.Lock()
	removed := e.tracker.Remove(id)
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	observe.Logger(ctx).Debug("participant left", "participant", id.String(), "was_member", removed)
}

// ReportSourceUnavailable puts the engine into degraded mode for the rest of
// the process lifetime: every line is buffered and nothing is replayed.
func (e *Engine) ReportSourceUnavailable(ctx context.Context, cause error) {
	err := fmt.Errorf("capture: %w", dialogue.ErrSourceUnavailable)
	if cause != nil {
		err = fmt.Errorf("capture: %w: %w", dialogue.ErrSourceUnavailable, cause)
	}

	e.mu.Lock()
	already := e.hasError
	e.hasError = true
	e.mu.Unlock()

	if !already {
		observe.Logger(ctx).Error("session source unavailable, buffering all dialogue",
			"kind", dialogue.Kind(err), "err", err)
	}
	e.notifier.Cue(ctx, CueSourceError)
}

// ── Administrative operations ───────────────────────────────────────────────

// Save encodes the pending store into a persisted container.
func (e *Engine) Save(ctx context.Context) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "capture.save")
	defer span.End()

	e.mu.Lock()
	snap := e.store.Snapshot()
	e.mu.Unlock()

	b, err := persist.EncodeState(snap)
	if err != nil {
		e.metrics.RecordPersist(ctx, "save", "error")
		span.RecordError(err)
		observe.Logger(ctx).Error("failed to encode pending lines", "err", err)
		return nil, fmt.Errorf("capture: save: %w", err)
	}
	e.metrics.RecordPersist(ctx, "save", "ok")
	observe.Logger(ctx).Debug("pending lines saved", "participants", len(snap), "bytes", len(b))
	return b, nil
}

// Load replaces the pending store with the contents of a persisted container
// or bare JSON document. On failure, or when the container carries no
// history record, the current store is left untouched.
func (e *Engine) Load(ctx context.Context, b []byte) error {
	ctx, span := observe.StartSpan(ctx, "capture.load")
	defer span.End()

	snap, err := persist.DecodeAny(b)
	if errors.Is(err, persist.ErrNoHistory) {
		e.metrics.RecordPersist(ctx, "load", "no_history")
		observe.Logger(ctx).Warn("persisted dialogue state holds no pending lines record, keeping current lines")
		return fmt.Errorf("capture: load: %w", err)
	}
	if err != nil {
		e.metrics.RecordPersist(ctx, "load", "malformed")
		span.RecordError(err)
		observe.Logger(ctx).Warn("persisted dialogue state rejected, keeping current lines",
			"kind", dialogue.Kind(err), "err", err)
		return fmt.Errorf("capture: load: %w", err)
	}

	e.mu.Lock()
	e.store.ReplaceAll(snap)
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	e.metrics.RecordPersist(ctx, "load", "ok")
	observe.Logger(ctx).Info("pending lines restored", "participants", len(snap))
	return nil
}

// Revert clears the pending store and dedup cursor.
func (e *Engine) Revert(ctx context.Context) {
	e.mu.Lock()
	e.store.ReplaceAll(nil)
	e.cursor = ""
	e.recordStateLocked(ctx)
	e.mu.Unlock()

	e.metrics.RecordPersist(ctx, "revert", "ok")
	observe.Logger(ctx).Info("pending lines cleared")
}

// UpdateSettings swaps the dialogue rules. Buffered lines and session state
// are unaffected.
func (e *Engine) UpdateSettings(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applySettings(s)
}

// Settings returns the current dialogue rules.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// ── Queries ─────────────────────────────────────────────────────────────────

// Degraded reports whether the session source has been reported unavailable.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasError
}

// PendingSnapshot returns a deep copy of all buffered lines.
func (e *Engine) PendingSnapshot() pending.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// SessionParticipants returns the tracked participant set in ascending order.
func (e *Engine) SessionParticipants() []dialogue.ParticipantID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Participants()
}

// SessionActive reports whether a session is active as seen by routing
// decisions. It is always false in degraded mode.
func (e *Engine) SessionActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	active, _ := e.membershipLocked(0)
	return active
}

// FlushPreview renders the replay payload id would receive on joining,
// without removing anything. It returns "" when nothing is buffered.
func (e *Engine) FlushPreview(id dialogue.ParticipantID) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return dialogue.FormatReplay(e.store.Peek(id))
}

// ── Internals ───────────────────────────────────────────────────────────────

// membershipLocked answers the routing questions, reporting no session while
// degraded.
func (e *Engine) membershipLocked(id dialogue.ParticipantID) (active, member bool) {
	if e.hasError {
		return false, false
	}
	return e.tracker.IsSessionActive(), e.tracker.Contains(id)
}

func (e *Engine) bufferLocked(ctx context.Context, id dialogue.ParticipantID, ex dialogue.Exchange) {
	e.store.Append(id, ex)
	e.metrics.ExchangesBuffered.Add(ctx, 1)
}

// flushLocked removes id's backlog and queues it as one replay message.
func (e *Engine) flushLocked(ctx context.Context, id dialogue.ParticipantID, out *outbox) {
	exchanges, ok := e.store.TakeAll(id)
	if !ok {
		return
	}
	out.messages = append(out.messages, forward.Message{
		Text:          dialogue.FormatReplay(exchanges),
		CharacterName: exchanges[len(exchanges)-1].ResponderName,
		Kind:          forward.KindReplay,
		Lines:         len(exchanges),
	})
	out.cues = append(out.cues, fmt.Sprintf("replayed %d lines", len(exchanges)))
	e.metrics.ExchangesFlushed.Add(ctx, int64(len(exchanges)))
	trace.SpanFromContext(ctx).AddEvent("replay", trace.WithAttributes(
		observe.Participant(uint32(id)),
		observe.AttrLines.Int(len(exchanges)),
	))
	observe.Logger(ctx).Log(ctx, e.traceLevel(), "replaying buffered lines",
		"participant", id.String(), "lines", len(exchanges))
}

func (e *Engine) reject(ctx context.Context, log *slog.Logger, cause string) {
	e.metrics.RecordRejected(ctx, cause)
	err := fmt.Errorf("capture: %s: %w", cause, dialogue.ErrInputRejected)
	log.Log(ctx, e.traceLevel(), "utterance rejected", "kind", dialogue.Kind(err), "err", err)
}

func (e *Engine) recordStateLocked(ctx context.Context) {
	e.metrics.RecordState(ctx, e.store.Len(), e.store.Count(), len(e.tracker.Participants()))
}

// traceLevel is the level for per-exchange decision logs.
func (e *Engine) traceLevel() slog.Level {
	if e.settings.Debug {
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (e *Engine) applySettings(s Settings) {
	if s.PlayerName == "" {
		s.PlayerName = dialogue.DefaultSpeakerName
	}
	e.settings = s
	e.filter = filter.New(s.Rules)
	e.ignore = s.ignoreSet()
}

// dispatch runs the deferred side effects of a transition. It must be called
// without e.mu held.
func (e *Engine) dispatch(ctx context.Context, out outbox) {
	for _, msg := range out.messages {
		if err := e.forwarder.Forward(ctx, msg); err != nil {
			observe.Logger(ctx).Warn("failed to forward dialogue",
				"kind", dialogue.Kind(err), "mode", string(msg.Kind),
				"character", msg.CharacterName, "lines", msg.Lines, "err", err)
		}
	}
	for _, c := range out.cues {
		e.notifier.Cue(ctx, c)
	}
}

// validText reports whether every field survives the persisted JSON form
// unchanged.
func validText(fields ...string) bool {
	for _, f := range fields {
		if !utf8.ValidString(f) {
			return false
		}
	}
	return true
}

func liveMessage(ex dialogue.Exchange) forward.Message {
	return forward.Message{
		Text:          dialogue.FormatLine(ex),
		CharacterName: ex.ResponderName,
		Kind:          forward.KindLive,
		Lines:         1,
	}
}
