package pulse

import (
	"errors"
	"testing"

	"github.com/jfreymuth/pulse"

	"github.com/MrWong99/jobvoice/pkg/audio"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want error
	}{
		{"Access denied", audio.ErrPermissionDenied},
		{"client not authorized", audio.ErrPermissionDenied},
		{"No such entity", audio.ErrDeviceUnavailable},
		{"connection refused", audio.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			t.Parallel()
			cause := errors.New(tt.msg)
			err := classify(cause)
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%q) = %v, want %v", tt.msg, err, tt.want)
			}
			if !errors.Is(err, cause) {
				t.Errorf("classify(%q) lost the cause", tt.msg)
			}
		})
	}
}

func TestWriterForwardsSamples(t *testing.T) {
	t.Parallel()

	var got []int16
	rec := &recording{onSamples: func(s []int16) { got = append(got, s...) }}
	n, err := rec.write([]byte{0x01, 0x00, 0xff, 0xff})
	if err != nil || n != 4 {
		t.Fatalf("write = %d, %v", n, err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Fatalf("samples = %v, want [1 -1]", got)
	}

	rec.stopped = true
	if _, err := rec.write([]byte{0, 0}); err == nil {
		t.Error("write after stop should end the stream")
	}
}

func TestStreamLossIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	err := classify(streamErr(nil))
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("lost stream = %v, want ErrDeviceUnavailable", err)
	}
	if !errors.Is(err, pulse.ErrConnectionClosed) {
		t.Errorf("lost stream = %v, want it to wrap ErrConnectionClosed", err)
	}

	cause := errors.New("write failed")
	if err := streamErr(cause); err != cause {
		t.Errorf("streamErr kept %v, want %v", err, cause)
	}
}
