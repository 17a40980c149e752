package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/journey/internal/presentation/tui"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// historyLimit bounds the conversation history sent with each message.
const historyLimit = 20

// ChatOptions contains the configuration of an interactive chat session.
type ChatOptions struct {
	WorkflowID string
	SessionID  string
	Context    map[string]any

	// Plain disables the banner and the markdown renderer.
	Plain bool
	Style string

	In  io.Reader
	Out io.Writer
}

// chat is one interactive session on a terminal or a pipe.
type chat struct {
	engine   ports.SessionEngine
	opts     ChatOptions
	renderer *tui.Renderer
	history  []domain.Message
	last     *domain.Reply
}

// RunChat starts (or resumes) a session and drives it from lines read on opts.In
// until the user quits, the input ends or the session reaches a terminal status.
//
// Plain lines are chat messages. Lines starting with '!' simulate the external
// execution engine or answer the pending intervention:
//
//	!started <node>          step_started
//	!done <node> [json]      step_completed with optional output data
//	!failed <node> [reason]  step_failed
//	!approve [comment]       approve the pending intervention
//	!reject [comment]        reject the pending intervention
//	!answer <value>          answer the pending intervention with a value
func RunChat(ctx context.Context, engine ports.SessionEngine, opts ChatOptions) error {
	c := &chat{engine: engine, opts: opts}
	if !opts.Plain {
		tui.PrintBanner(opts.Out)
		r, err := tui.NewRenderer(opts.Style)
		if err != nil {
			return fmt.Errorf("failed to create renderer: %w", err)
		}
		c.renderer = r
	}

	reply, err := c.open(ctx)
	if reply == nil {
		return err
	}
	c.show(reply, err)

	scanner := bufio.NewScanner(opts.In)
	for !c.finished() {
		fmt.Fprint(opts.Out, "> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintln(opts.Out)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "q", "quit", "exit":
			printSystemMessage(opts.Out, "Leaving session '%s'.", c.last.SessionID)
			return nil
		}

		if strings.HasPrefix(line, "!") {
			c.directive(ctx, line[1:])
			continue
		}
		c.message(ctx, line)
	}

	printSystemMessage(opts.Out, "Session '%s' %s.", c.last.SessionID, c.last.Status)
	return nil
}

// open resumes opts.SessionID when it exists and starts a new session otherwise.
func (c *chat) open(ctx context.Context) (*domain.Reply, error) {
	if c.opts.SessionID != "" {
		reply, err := c.engine.Reply(ctx, c.opts.SessionID)
		if err == nil {
			printSystemMessage(c.opts.Out, "Resuming session '%s'.", c.opts.SessionID)
			return reply, nil
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
	}

	reply, err := c.engine.StartSession(ctx, c.opts.SessionID, c.opts.WorkflowID, c.opts.Context)
	if reply != nil {
		printSystemMessage(c.opts.Out, "Session '%s' active.", reply.SessionID)
	}
	return reply, err
}

func (c *chat) finished() bool {
	return c.last != nil && c.last.Status.Terminal()
}

func (c *chat) message(ctx context.Context, text string) {
	reply, err := c.engine.HandleMessage(ctx, c.last.SessionID, text, c.history)
	c.remember(domain.Message{Role: domain.RoleUser, Content: text})
	if reply != nil {
		c.remember(domain.Message{
			Role:     domain.RoleAssistant,
			Content:  reply.PromptText,
			Proposed: proposal(reply),
		})
	}
	c.show(reply, err)
}

func (c *chat) directive(ctx context.Context, line string) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	var (
		reply *domain.Reply
		err   error
	)
	switch verb {
	case "started", "done", "failed":
		event, perr := parseEvent(verb, rest)
		if perr != nil {
			printSystemMessage(c.opts.Out, "%v", perr)
			return
		}
		reply, err = c.engine.HandleEvent(ctx, c.last.SessionID, event)
	case "approve", "reject", "answer":
		notice := c.last.NeedsIntervention
		if notice == nil {
			printSystemMessage(c.opts.Out, "No intervention is pending.")
			return
		}
		reply, err = c.engine.RespondIntervention(ctx, notice.InterventionID, parseResponse(verb, rest))
	default:
		printSystemMessage(c.opts.Out, "Unknown directive '!%s'.", verb)
		return
	}
	c.show(reply, err)
}

func (c *chat) remember(m domain.Message) {
	c.history = append(c.history, m)
	if len(c.history) > historyLimit {
		c.history = c.history[len(c.history)-historyLimit:]
	}
}

func (c *chat) show(reply *domain.Reply, err error) {
	if reply != nil {
		c.last = reply
		if c.renderer != nil {
			fmt.Fprintln(c.opts.Out, c.renderer.Render(reply))
		} else {
			fmt.Fprintln(c.opts.Out, tui.ReplyMarkdown(reply))
		}
	}
	if err != nil && (reply == nil || reply.Error == nil) {
		printSystemMessage(c.opts.Out, "%s: %v", domain.ErrorCode(err), err)
	}
}

// proposal is the command an ambiguous reply offered, so a following "yes" confirms it.
func proposal(reply *domain.Reply) domain.Command {
	if reply.Intent == nil || reply.Intent.Command != domain.CommandNone || len(reply.Intent.Alternatives) == 0 {
		return ""
	}
	return reply.Intent.Alternatives[0].Command
}

func parseEvent(verb, rest string) (domain.EngineEvent, error) {
	node, tail, _ := strings.Cut(rest, " ")
	if node == "" {
		return domain.EngineEvent{}, fmt.Errorf("usage: !%s <node>", verb)
	}
	tail = strings.TrimSpace(tail)

	event := domain.EngineEvent{NodeID: node}
	switch verb {
	case "started":
		event.Type = domain.EventStepStarted
	case "done":
		event.Type = domain.EventStepCompleted
		if tail != "" {
			if !json.Valid([]byte(tail)) {
				return event, fmt.Errorf("output data must be JSON: %s", tail)
			}
			event.Data = json.RawMessage(tail)
		}
	case "failed":
		event.Type = domain.EventStepFailed
		event.Error = tail
		if event.Error == "" {
			event.Error = "step failed"
		}
	}
	return event, nil
}

func parseResponse(verb, rest string) domain.InterventionResponse {
	resp := domain.InterventionResponse{Responder: "cli"}
	switch verb {
	case "approve", "reject":
		approved := verb == "approve"
		resp.Approved = &approved
		resp.Comment = rest
	case "answer":
		var value any
		if err := json.Unmarshal([]byte(rest), &value); err != nil {
			value = rest
		}
		resp.Value = value
	}
	return resp
}
