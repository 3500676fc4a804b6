package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/logging"
)

// maxFrameSize bounds a single NDJSON line.
const maxFrameSize = 1 << 20

// ClientOptions configure a RemoteAgent.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     logging.Logger
}

// RemoteAgent proxies a stage hosted behind the invoke protocol.
type RemoteAgent struct {
	stage     string
	card      Card
	invokeURL string
	client    *http.Client
	logger    logging.Logger
}

// NewRemoteAgent builds a proxy for stage from an already fetched card.
func NewRemoteAgent(stage, baseURL string, card Card, optFns ...func(o *ClientOptions)) *RemoteAgent {
	opts := ClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &RemoteAgent{
		stage:     stage,
		card:      card,
		invokeURL: card.InvokeURL(baseURL),
		client:    opts.HTTPClient,
		logger:    logging.Ensure(opts.Logger),
	}
}

// Resolve fetches the card at baseURL and returns a proxy for stage. The
// returned error is an *core.AgentResolutionError.
func Resolve(ctx context.Context, stage, baseURL string, optFns ...func(o *ClientOptions)) (*RemoteAgent, error) {
	opts := ClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	card, err := FetchCard(ctx, opts.HTTPClient, baseURL)
	if err != nil {
		return nil, &core.AgentResolutionError{Stage: stage, BaseURL: baseURL, Err: err}
	}

	return NewRemoteAgent(stage, baseURL, card, optFns...), nil
}

// Name returns the pipeline stage name, which may differ from the card name.
func (a *RemoteAgent) Name() string { return a.stage }

// Description returns the card description.
func (a *RemoteAgent) Description() string { return a.card.Description }

// Backend reports BackendRemote.
func (a *RemoteAgent) Backend() core.BackendKind { return core.BackendRemote }

// Card returns the descriptor the proxy was built from.
func (a *RemoteAgent) Card() Card { return a.card }

// Invoke implements core.Agent. Cancelling ctx aborts the HTTP exchange.
func (a *RemoteAgent) Invoke(ctx context.Context, conv core.Conversation) (<-chan core.Event, <-chan error) {
	events := make(chan core.Event)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(events)

		if err := a.stream(ctx, conv, core.ChannelEmitter(events)); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

func (a *RemoteAgent) stream(ctx context.Context, conv core.Conversation, emit core.Emitter) error {
	body, err := json.Marshal(InvokeRequest{RunID: core.RunIDFrom(ctx), Stage: a.stage, Conversation: conv})
	if err != nil {
		return fmt.Errorf("encode invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.invokeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentTypeNDJSON)

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("invoke %s: %w", a.invokeURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("invoke %s: status %d: %s", a.invokeURL, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := decodeFrame(line)
		if err != nil {
			if isRemoteError(err) {
				return err
			}
			a.logger.Warn("a2a.frame.malformed", "stage", a.stage, "error", err.Error())
			continue
		}

		if err := emit.Emit(ctx, ev); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read invoke stream: %w", err)
	}

	return ctx.Err()
}
