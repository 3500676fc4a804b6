package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/factorymesh"
	"github.com/hupe1980/factorymesh/core"
	"github.com/hupe1980/factorymesh/engine"
	"github.com/hupe1980/factorymesh/trace"
)

// Run executes one request and prints the WorkflowResult as JSON. A run that
// does not complete yields a non-nil error after printing.
func (r *RunCmd) Run(cli *CLI) error {
	req, err := r.request()
	if err != nil {
		return err
	}

	cfg, logger, err := cli.load("run")
	if err != nil {
		return err
	}

	mesh, err := factorymesh.New(cfg, func(o *factorymesh.Options) { o.Logger = logger })
	if err != nil {
		return err
	}
	defer mesh.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := mesh.Run(ctx, req, r.runOptions(os.Stderr))
	if res != nil {
		if perr := printResult(os.Stdout, res); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if res.Status != trace.RunCompleted {
		return fmt.Errorf("run %s %s", res.RunID, res.Status)
	}
	return nil
}

func (r *RunCmd) request() (core.Request, error) {
	var req core.Request
	if r.File != "" {
		data, err := os.ReadFile(r.File)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse %s: %w", r.File, err)
		}
	} else {
		req.ID = r.ID
		if r.Payload != "" {
			if err := json.Unmarshal([]byte(r.Payload), &req.Payload); err != nil {
				return req, fmt.Errorf("parse payload: %w", err)
			}
		}
	}
	if req.ID == "" {
		return req, errors.New("a request file or --id is required")
	}
	return req, nil
}

func (r *RunCmd) runOptions(events io.Writer) func(o *engine.RunOptions) {
	enc := json.NewEncoder(events)
	return func(o *engine.RunOptions) {
		o.RunID = r.RunID
		if r.Events {
			o.OnEvent = func(ev core.Event) { _ = enc.Encode(ev) }
		}
	}
}

func printResult(w io.Writer, res *trace.WorkflowResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
