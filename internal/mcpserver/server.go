// Package mcpserver exposes read-only views of the capture engine as MCP
// tools, so an assistant can inspect what is buffered before a conversation
// starts.
package mcpserver

import (
	"context"
	"net/http"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/pending"
)

// Tool names.
const (
	ToolPendingLines = "pending_lines"
	ToolSessionState = "session_state"
	ToolFlushPreview = "flush_preview"
)

// Engine is the read side of the capture engine.
type Engine interface {
	PendingSnapshot() pending.Snapshot
	SessionActive() bool
	SessionParticipants() []dialogue.ParticipantID
	Degraded() bool
	FlushPreview(id dialogue.ParticipantID) string
}

// ── tool payloads ───────────────────────────────────────────────────────────

// PendingLinesInput is the argument of the pending_lines tool. A nil
// Participant lists every backlog.
type PendingLinesInput struct {
	Participant *uint32 `json:"participant,omitempty" jsonschema:"only list this participant's lines"`
}

// Line is one buffered exchange as reported by pending_lines.
type Line struct {
	Speaker   string  `json:"speaker"`
	Said      string  `json:"said"`
	Responder string  `json:"responder"`
	Response  string  `json:"response"`
	GameTime  float64 `json:"gameTimeHours"`
}

// ParticipantLines is one participant's backlog in stored order.
type ParticipantLines struct {
	Participant uint32 `json:"participant"`
	Lines       []Line `json:"lines"`
}

// PendingLinesOutput is the result of pending_lines, sorted by participant.
type PendingLinesOutput struct {
	Participants []ParticipantLines `json:"participants"`
}

// SessionStateInput is the (empty) argument of the session_state tool.
type SessionStateInput struct{}

// SessionStateOutput is the result of session_state. Active is false while
// the engine is degraded.
type SessionStateOutput struct {
	Active              bool     `json:"active"`
	Degraded            bool     `json:"degraded"`
	Participants        []uint32 `json:"participants"`
	PendingParticipants int      `json:"pendingParticipants"`
	PendingLines        int      `json:"pendingLines"`
}

// FlushPreviewInput is the argument of the flush_preview tool.
type FlushPreviewInput struct {
	Participant uint32 `json:"participant" jsonschema:"participant whose backlog to preview"`
}

// FlushPreviewOutput is the replay text the participant would receive on
// joining. Previewing does not consume the backlog.
type FlushPreviewOutput struct {
	Participant uint32 `json:"participant"`
	Lines       int    `json:"lines"`
	Text        string `json:"text"`
}

// New builds an MCP server with the engine tools registered.
func New(engine Engine, version string) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "vanilla-dialogue", Version: version}, nil)
	t := tools{engine: engine}

	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolPendingLines,
		Description: "List buffered dialogue lines that have not yet been delivered, grouped by participant.",
	}, t.pendingLines)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolSessionState,
		Description: "Report whether a conversation is active, who is in it, and whether tracking is degraded.",
	}, t.sessionState)
	mcp.AddTool(s, &mcp.Tool{
		Name:        ToolFlushPreview,
		Description: "Show the replay text that would be sent if the participant joined a conversation now.",
	}, t.flushPreview)
	return s
}

// Handler serves the engine tools over streamable HTTP.
func Handler(engine Engine, version string) http.Handler {
	s := New(engine, version)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s }, nil)
}

type tools struct {
	engine Engine
}

func (t tools) pendingLines(_ context.Context, _ *mcp.CallToolRequest, in PendingLinesInput) (*mcp.CallToolResult, PendingLinesOutput, error) {
	snap := t.engine.PendingSnapshot()
	ids := make([]dialogue.ParticipantID, 0, len(snap))
	for id := range snap {
		if in.Participant != nil && dialogue.ParticipantID(*in.Participant) != id {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := PendingLinesOutput{Participants: make([]ParticipantLines, 0, len(ids))}
	for _, id := range ids {
		pl := ParticipantLines{Participant: uint32(id), Lines: make([]Line, 0, len(snap[id]))}
		for _, e := range snap[id] {
			pl.Lines = append(pl.Lines, Line{
				Speaker:   e.SpeakerName,
				Said:      e.SpeakerText,
				Responder: e.ResponderName,
				Response:  e.ResponseText,
				GameTime:  e.Timestamp,
			})
		}
		out.Participants = append(out.Participants, pl)
	}
	return nil, out, nil
}

func (t tools) sessionState(_ context.Context, _ *mcp.CallToolRequest, _ SessionStateInput) (*mcp.CallToolResult, SessionStateOutput, error) {
	members := t.engine.SessionParticipants()
	out := SessionStateOutput{
		Active:       t.engine.SessionActive(),
		Degraded:     t.engine.Degraded(),
		Participants: make([]uint32, 0, len(members)),
	}
	for _, id := range members {
		out.Participants = append(out.Participants, uint32(id))
	}
	slices.Sort(out.Participants)

	snap := t.engine.PendingSnapshot()
	out.PendingParticipants = len(snap)
	for _, seq := range snap {
		out.PendingLines += len(seq)
	}
	return nil, out, nil
}

func (t tools) flushPreview(_ context.Context, _ *mcp.CallToolRequest, in FlushPreviewInput) (*mcp.CallToolResult, FlushPreviewOutput, error) {
	id := dialogue.ParticipantID(in.Participant)
	return nil, FlushPreviewOutput{
		Participant: in.Participant,
		Lines:       len(t.engine.PendingSnapshot()[id]),
		Text:        t.engine.FlushPreview(id),
	}, nil
}
