package main

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/lightforgemedia/go-ledgerclient/pkg/envelope"
	"github.com/tdewolff/minify/v2"
	mjson "github.com/tdewolff/minify/v2/json"
)

const jsonMediaType = "application/json"

// printer writes one JSON document per event or result. Listeners run on the client
// loop, but request output comes from the command goroutine, hence the lock.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	compact bool
	m       *minify.M
}

func newPrinter(w io.Writer, compact bool) *printer {
	m := minify.New()
	m.AddFunc(jsonMediaType, mjson.Minify)
	return &printer{w: w, compact: compact, m: m}
}

// Event prints ev in its wire shape.
func (p *printer) Event(ev envelope.Event) error {
	env, err := envelope.EncodeEvent(ev)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Raw(raw)
}

// Raw prints a JSON document. An empty document prints as null.
func (p *printer) Raw(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	var out []byte
	if p.compact {
		small, err := p.m.Bytes(jsonMediaType, raw)
		if err != nil {
			return err
		}
		out = small
	} else {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return err
		}
		out = buf.Bytes()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(out); err != nil {
		return err
	}
	_, err := p.w.Write([]byte("\n"))
	return err
}
