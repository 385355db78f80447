package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestChannelsAreIndependentlyMuted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, hclog.Debug, SCHEDULE)

	l.For(SCHEDULE).Info("should not appear")
	l.For(GENERAL).Info("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("expected muted channel to produce no output, got %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("expected unmuted channel to log, got %q", out)
	}
}

func TestUnknownChannelIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, hclog.Debug)
	l.For(Channel("bogus")).Info("nothing happens")
	if buf.Len() != 0 {
		t.Fatalf("expected no output from an unknown channel, got %q", buf.String())
	}
}

func TestSetLevelSilencesAfterCreation(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, hclog.Debug)
	l.SetLevel(MEMORY, hclog.Off)
	l.For(MEMORY).Info("should be silent")
	if buf.Len() != 0 {
		t.Fatalf("expected SetLevel(Off) to silence output, got %q", buf.String())
	}
}
