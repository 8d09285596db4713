package service

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/zxresearch/reportgate/internal/domain"
	"go.uber.org/zap"
)

// guardConfig tunes the repetition circuit-breaker. The guard activates
// once the accumulated answer crosses ActivationChars; from then on every
// chunk re-checks whether the last line (at least MinLineChars long)
// already appeared RepeatThreshold times among the earlier lines.
type guardConfig struct {
	ActivationChars int
	MinLineChars    int
	RepeatThreshold int
}

// streamEvent is one newline-delimited JSON object from the upstream
// stream. Documents stays raw so that an explicit empty list still
// replaces the running set, while absence leaves it untouched.
type streamEvent struct {
	Data      *string         `json:"data"`
	Documents json.RawMessage `json:"documents"`
}

// streamAggregator reconstructs the structured transcript from the bytes
// being relayed. A JSON object may arrive split across chunks, so only
// the trailing un-terminated line is buffered between Consume calls;
// complete lines that fail to parse are logged and dropped. This makes
// the reconstructed answer independent of how the byte stream is chunked.
type streamAggregator struct {
	guard     guardConfig
	logger    *zap.Logger
	answer    strings.Builder
	documents []domain.Document
	pending   []byte
	tripped   bool
}

func newStreamAggregator(guard guardConfig, logger *zap.Logger) *streamAggregator {
	return &streamAggregator{guard: guard, logger: logger}
}

// Consume feeds one relayed chunk into the aggregator and re-evaluates
// the repetition guard.
func (a *streamAggregator) Consume(chunk []byte) {
	a.pending = append(a.pending, chunk...)
	for {
		i := bytes.IndexByte(a.pending, '\n')
		if i < 0 {
			break
		}
		line := a.pending[:i]
		a.pending = a.pending[i+1:]
		a.consumeLine(line)
	}
	a.checkRepetition()
}

func (a *streamAggregator) consumeLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		a.logger.Warn("discarding unparsable stream line", zap.ByteString("line", line))
		return
	}
	if ev.Data != nil {
		a.answer.WriteString(*ev.Data)
	}
	if ev.Documents != nil {
		var docs []domain.Document
		if err := json.Unmarshal(ev.Documents, &docs); err != nil {
			a.logger.Warn("discarding unparsable document list", zap.Error(err))
			return
		}
		// full replacement, not append
		a.documents = docs
	}
}

func (a *streamAggregator) checkRepetition() {
	if a.tripped {
		return
	}
	answer := a.answer.String()
	if utf8.RuneCountInString(answer) <= a.guard.ActivationChars {
		return
	}
	lines := strings.Split(answer, "\n")
	last := lines[len(lines)-1]
	if utf8.RuneCountInString(last) < a.guard.MinLineChars {
		return
	}
	repeats := 0
	for _, line := range lines[:len(lines)-1] {
		if line == last {
			repeats++
		}
	}
	if repeats >= a.guard.RepeatThreshold {
		a.tripped = true
	}
}

// Tripped reports whether the repetition guard has fired.
func (a *streamAggregator) Tripped() bool { return a.tripped }

// Answer returns the accumulated answer text.
func (a *streamAggregator) Answer() string { return a.answer.String() }

// Documents returns the last document list announced by the stream.
func (a *streamAggregator) Documents() []domain.Document { return a.documents }
