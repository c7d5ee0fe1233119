package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/events"
)

func TestSpeechThenSilenceYieldsPartialsThenOneFinal(t *testing.T) {
	tr := &scriptedTranscriber{}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()

	if _, err := m.Start(ctx, sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.FeedPCM(tone(3 * time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := m.FeedPCM(silence(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	transcript, err := m.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	segs := sink.segments()
	assertAuthorityOrder(t, segs)
	assertEveryPartialResolved(t, segs)
	finals := sink.finals()
	if len(finals) != 1 {
		t.Fatalf("got %d finals, want exactly 1: %+v", len(finals), finals)
	}
	final := finals[0]
	if final.BestEffort || final.Text != "final 1" {
		t.Errorf("final = %+v", final)
	}
	if final.Start != 0 {
		t.Errorf("final Start = %v, want 0", final.Start)
	}
	if d := final.End - 3*time.Second; d < -160*time.Millisecond || d > 160*time.Millisecond {
		t.Errorf("final End = %v, want 3s ± 160ms", final.End)
	}
	if segs[0].IsFinal {
		t.Error("no partial preceded the final")
	}
	if got := tr.calls.Load(); got != 1 {
		t.Errorf("final engine called %d times, want 1", got)
	}

	if len(transcript) != 1 || transcript[0].Text != "final 1" {
		t.Errorf("transcript = %+v", transcript)
	}
	notices := sink.notices()
	want := []events.Notice{events.NoticePreparing, events.NoticeReady, events.NoticeStarted, events.NoticeStopped}
	if len(notices) != len(want) {
		t.Fatalf("notices = %v, want %v", notices, want)
	}
	for i := range want {
		if notices[i] != want[i] {
			t.Errorf("notice %d = %q, want %q", i, notices[i], want[i])
		}
	}
	if st := m.Status(); st.State != StateIdle {
		t.Errorf("status after Stop = %v", st)
	}
}

func TestFailedFinalKeepsPartialAsBestEffort(t *testing.T) {
	tr := &scriptedTranscriber{fail: map[int]bool{3: true}}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	if _, err := m.Start(ctx, sink); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		_ = m.FeedPCM(tone(time.Second))
		_ = m.FeedPCM(silence(500 * time.Millisecond))
	}
	if _, err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	segs := sink.segments()
	assertAuthorityOrder(t, segs)
	assertEveryPartialResolved(t, segs)
	lastPartial := make(map[uint64]string)
	for _, s := range segs {
		if !s.IsFinal {
			lastPartial[s.SegmentID] = s.Text
		}
	}

	finals := sink.finals()
	if len(finals) != 5 {
		t.Fatalf("got %d finals, want 5", len(finals))
	}
	wantText := []string{"final 1", "final 2", "", "final 4", "final 5"}
	for i, f := range finals {
		if f.SegmentID != uint64(i+1) {
			t.Errorf("final %d is segment %d, want %d", i, f.SegmentID, i+1)
		}
		if i == 2 {
			if !f.BestEffort {
				t.Errorf("S3 not marked best-effort: %+v", f)
			}
			if f.Text == "" || f.Text != lastPartial[3] {
				t.Errorf("S3 text = %q, want last partial %q", f.Text, lastPartial[3])
			}
			continue
		}
		if f.BestEffort || f.Text != wantText[i] {
			t.Errorf("S%d = %+v, want %q", i+1, f, wantText[i])
		}
	}
	if got := tr.calls.Load(); got != 5 {
		t.Errorf("final engine called %d times, want 5", got)
	}
}

func TestFinalEngineUnavailableEmitsPartialsOnly(t *testing.T) {
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      engine.NewUnavailableFinalEngine("model missing", engine.FinalOptions{Logger: zerolog.Nop()}),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	info, err := m.Start(ctx, sink)
	if err != nil {
		t.Fatal(err)
	}
	if info.Capabilities.Finals.Available {
		t.Error("finals reported available")
	}
	_ = m.FeedPCM(tone(2 * time.Second))
	_ = m.FeedPCM(silence(time.Second))
	transcript, _ := m.Stop(ctx)

	segs := sink.segments()
	if len(segs) == 0 {
		t.Fatal("no partials emitted")
	}
	for _, s := range segs {
		if s.IsFinal {
			t.Errorf("final emitted without a final engine: %+v", s)
		}
	}
	if len(transcript) != 1 || transcript[0].IsFinal {
		t.Errorf("transcript = %+v, want the standing partial", transcript)
	}
	if n := sink.notices(); n[1] != events.NoticeDegradedPartialsOnly {
		t.Errorf("notices = %v", n)
	}
}

func TestFastEngineUnavailableEmitsFinalsOnly(t *testing.T) {
	tr := &scriptedTranscriber{}
	m := NewManager(Options{
		Final:  newFinal(t, tr),
		VAD:    testVAD(),
		Logger: zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	if _, err := m.Start(ctx, sink); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		_ = m.FeedPCM(tone(time.Second))
		_ = m.FeedPCM(silence(500 * time.Millisecond))
	}
	_, _ = m.Stop(ctx)

	segs := sink.segments()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2 finals", len(segs))
	}
	for _, s := range segs {
		if !s.IsFinal {
			t.Errorf("partial emitted without a fast engine: %+v", s)
		}
	}
	if n := sink.notices(); n[1] != events.NoticeDegradedFinalsOnly {
		t.Errorf("notices = %v", n)
	}
}

func TestNoSegmentsForSilence(t *testing.T) {
	tr := &scriptedTranscriber{}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	_, _ = m.Start(ctx, sink)
	_ = m.FeedPCM(silence(3 * time.Second))
	_, _ = m.Stop(ctx)

	if segs := sink.segments(); len(segs) != 0 {
		t.Errorf("silence produced segments: %+v", segs)
	}
	if got := tr.calls.Load(); got != 0 {
		t.Errorf("final engine called %d times on silence", got)
	}
}

func TestShortSegmentRetractsItsPartials(t *testing.T) {
	tr := &scriptedTranscriber{}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	if _, err := m.Start(ctx, sink); err != nil {
		t.Fatal(err)
	}
	_ = m.FeedPCM(tone(220 * time.Millisecond))
	_ = m.FeedPCM(silence(time.Second))
	transcript, err := m.Stop(ctx)
	if err != nil {
		t.Fatal(err)
	}

	segs := sink.segments()
	assertAuthorityOrder(t, segs)
	assertEveryPartialResolved(t, segs)
	if len(segs) != 2 {
		t.Fatalf("segments = %+v, want one partial and its retraction", segs)
	}
	if segs[0].IsFinal || segs[0].Text != "w1" {
		t.Errorf("first = %+v, want partial w1", segs[0])
	}
	last := segs[1]
	if !last.IsFinal || !last.Discarded || last.Text != "" || last.SegmentID != segs[0].SegmentID {
		t.Errorf("retraction = %+v", last)
	}
	if got := tr.calls.Load(); got != 0 {
		t.Errorf("final engine called %d times for a discarded segment", got)
	}
	if len(transcript) != 0 {
		t.Errorf("transcript = %+v, want empty", transcript)
	}
}

func TestUnpausedSpeechIsForceClosed(t *testing.T) {
	tr := &scriptedTranscriber{}
	cfg := testVAD()
	cfg.MaxSegment = time.Second
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        cfg,
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	_, _ = m.Start(ctx, sink)
	_ = m.FeedPCM(tone(2500 * time.Millisecond))

	deadline := time.After(3 * time.Second)
	for len(sink.finals()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("got %d finals before stop, want 2 forced closes", len(sink.finals()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	_, _ = m.Stop(ctx)
	for _, f := range sink.finals() {
		if f.Duration() > time.Second {
			t.Errorf("segment %d lasted %v, longer than the maximum", f.SegmentID, f.Duration())
		}
	}
	assertAuthorityOrder(t, sink.segments())
}

func TestStopDrainTimeoutResolvesBestEffort(t *testing.T) {
	tr := &scriptedTranscriber{release: make(chan struct{})}
	defer close(tr.release)
	m := NewManager(Options{
		Recognizer:   &wordRecognizer{},
		Final:        newFinal(t, tr),
		VAD:          testVAD(),
		DrainTimeout: 100 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	_, _ = m.Start(ctx, sink)
	_ = m.FeedPCM(tone(time.Second))
	_ = m.FeedPCM(silence(500 * time.Millisecond))

	start := time.Now()
	transcript, err := m.Stop(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if took := time.Since(start); took > 2*time.Second {
		t.Errorf("Stop took %v despite the drain timeout", took)
	}
	if len(transcript) != 1 || !transcript[0].IsFinal || !transcript[0].BestEffort {
		t.Fatalf("transcript = %+v, want one best-effort final", transcript)
	}
	if m.Status().State != StateIdle {
		t.Errorf("status = %v, want idle", m.Status())
	}
}

func TestCancelDiscardsInFlightWork(t *testing.T) {
	tr := &scriptedTranscriber{release: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	_, _ = m.Start(context.Background(), sink)
	_ = m.FeedPCM(tone(time.Second))
	_ = m.FeedPCM(silence(500 * time.Millisecond))

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("final request never reached the engine")
	}

	start := time.Now()
	if err := m.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Errorf("Cancel waited %v", took)
	}
	close(tr.release)

	sink.waitNotice(t, events.NoticeCancelled)
	if f := sink.finals(); len(f) != 0 {
		t.Errorf("finals after cancel: %+v", f)
	}
	if m.Status().State != StateIdle {
		t.Errorf("status = %v, want idle", m.Status())
	}
	if err := m.Cancel(); !errors.Is(err, ErrNotActive) {
		t.Errorf("second Cancel = %v, want ErrNotActive", err)
	}
}

func TestBacklogCountsQueuedFinals(t *testing.T) {
	tr := &scriptedTranscriber{release: make(chan struct{}), started: make(chan struct{}, 1)}
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Final:      newFinal(t, tr),
		VAD:        testVAD(),
		Logger:     zerolog.Nop(),
	})
	sink := &collector{}
	ctx := context.Background()
	_, _ = m.Start(ctx, sink)
	for i := 0; i < 3; i++ {
		_ = m.FeedPCM(tone(time.Second))
		_ = m.FeedPCM(silence(500 * time.Millisecond))
	}

	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("final request never reached the engine")
	}
	deadline := time.After(2 * time.Second)
	for m.Backlog().FinalRequests != 2 {
		select {
		case <-deadline:
			t.Fatalf("backlog = %+v, want 2 queued final requests", m.Backlog())
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(tr.release)
	if _, err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if b := m.Backlog(); b.FinalRequests != 0 || b.Events != 0 {
		t.Errorf("backlog after Stop = %+v", b)
	}
	if n := len(sink.finals()); n != 3 {
		t.Errorf("got %d finals, want 3", n)
	}
}

func TestLifecycleMisuse(t *testing.T) {
	m := NewManager(Options{
		Recognizer: &wordRecognizer{},
		Logger:     zerolog.Nop(),
	})
	ctx := context.Background()

	if err := m.FeedPCM(tone(time.Second)); !errors.Is(err, ErrNotActive) {
		t.Errorf("Feed while idle = %v, want ErrNotActive", err)
	}
	if _, err := m.Stop(ctx); !errors.Is(err, ErrNotActive) {
		t.Errorf("Stop while idle = %v, want ErrNotActive", err)
	}
	if _, err := m.Start(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(ctx, nil); !errors.Is(err, ErrConcurrentSession) {
		t.Errorf("second Start = %v, want ErrConcurrentSession", err)
	}
	if _, err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(ctx, nil); err != nil {
		t.Errorf("Start after Stop = %v", err)
	}
	_ = m.Cancel()
}

func TestNoCapabilityIsReportedOnceAtStart(t *testing.T) {
	m := NewManager(Options{Logger: zerolog.Nop()})
	sink := &collector{}

	_, err := m.Start(context.Background(), sink)
	if !errors.Is(err, ErrNoCapability) {
		t.Fatalf("Start = %v, want ErrNoCapability", err)
	}
	st := m.Status()
	if st.State != StateError || st.Reason == "" {
		t.Errorf("status = %+v, want error with reason", st)
	}
	if err := m.FeedPCM(tone(time.Second)); !errors.Is(err, ErrNotActive) {
		t.Errorf("Feed in error state = %v, want ErrNotActive", err)
	}
	if n := sink.notices(); len(n) != 2 || n[1] != events.NoticeError {
		t.Errorf("notices = %v", n)
	}
	if _, err := m.Start(context.Background(), nil); !errors.Is(err, ErrNoCapability) {
		t.Errorf("restart from error = %v, want ErrNoCapability", err)
	}
}

func TestSessionRecording(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Options{
		Recognizer:   &wordRecognizer{},
		VAD:          testVAD(),
		RecordingDir: dir,
		Logger:       zerolog.Nop(),
	})
	info, err := m.Start(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if info.Recording == "" {
		t.Fatal("recording not enabled")
	}
	_ = m.FeedPCM(tone(time.Second))
	_, _ = m.Stop(context.Background())

	f, err := os.Open(info.Recording)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	samples, rate, err := audio.DecodeWAV(f)
	if err != nil {
		t.Fatal(err)
	}
	if rate != audio.SampleRate || len(samples) != audio.SampleRate {
		t.Errorf("recording rate=%d samples=%d, want %d %d", rate, len(samples), audio.SampleRate, audio.SampleRate)
	}
}
