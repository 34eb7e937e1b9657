package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/swapplan/swapplan/internal/config"
	"github.com/swapplan/swapplan/internal/model"
)

func TestRenderJSONEnvelope(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]any{"asset": "SOL", "balance": "2.5"},
		Meta:    model.EnvelopeMeta{Command: "balance", Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "json"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if decoded["version"] != "v1" || decoded["success"] != true {
		t.Fatalf("unexpected envelope: %s", buf.String())
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok || data["asset"] != "SOL" {
		t.Fatalf("unexpected data: %s", buf.String())
	}
}

func TestRenderPlainFlattens(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]any{"route": "Whirlpool", "amount_out": "0.098"},
		Meta:    model.EnvelopeMeta{Command: "quote", Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "success=true") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainIncludesError(t *testing.T) {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error:   &model.ErrorBody{Code: 18, Kind: "no_route_available", Message: "no routes"},
		Meta:    model.EnvelopeMeta{Command: "quote", Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "no_route_available") {
		t.Fatalf("error should surface in plain output: %s", buf.String())
	}
}
