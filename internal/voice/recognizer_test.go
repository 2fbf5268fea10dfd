package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yoockh/smartattend/internal/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rig struct {
	mic   *fakeMic
	local *fakeLocal
	stt   *fakeTranscriber
	arch  *fakeArchiver
	rec   *Recognizer
}

func newRig(withLocal bool) *rig {
	r := &rig{
		mic:  &fakeMic{},
		stt:  &fakeTranscriber{},
		arch: &fakeArchiver{},
	}
	var local LocalRecognizer
	if withLocal {
		r.local = &fakeLocal{}
		local = r.local
	}
	r.rec = NewRecognizer(r.mic, local, r.stt, r.arch, Options{})
	return r
}

var pcm = []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x00}

func TestRecognizer_LocalTranscriptIsUsed(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	assert.Equal(t, StatusStarting, r.rec.Status())

	sess := r.local.last()
	assert.Equal(t, 1, sess.Starts())
	sess.ev.OnStart()
	assert.Equal(t, StatusListening, r.rec.Status())

	r.mic.last().push(pcm)
	assert.Equal(t, len(pcm), sess.Written())

	sess.ev.OnResult([]string{"roll one", "2  3"})
	sess.ev.OnResult([]string{"1 2 3", "four"})
	text, engaged := r.rec.Transcript()
	assert.True(t, engaged)
	assert.Equal(t, "1 2 3 four", text)

	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, out.Source)
	assert.Empty(t, out.FallbackReason)
	assert.Equal(t, []string{"1", "2", "3", "4"}, out.RollNumbers.Slice())
	assert.Equal(t, StatusProcessing, r.rec.Status())
	assert.Zero(t, r.stt.Calls())

	require.Equal(t, 1, r.arch.Count())
	assert.Equal(t, MimeWAV, r.arch.blobs[0].MimeType)
	assert.Equal(t, "RIFF", string(r.arch.blobs[0].Data[:4]))
	assert.Equal(t, 1, r.mic.last().Stopped())
	assert.False(t, r.rec.Recording())
}

func TestRecognizer_NetworkErrorFallsBackToServer(t *testing.T) {
	r := newRig(true)
	r.stt.results = []*RollCallResult{{Text: "12 14", RollNumbers: []string{"12", " 14 ", ""}}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	sess := r.local.last()
	sess.ev.OnStart()
	sess.ev.OnResult([]string{"twelve"})
	r.mic.last().push(pcm)

	sess.ev.OnError(ErrCodeNetwork)
	assert.Equal(t, StatusNetworkError, r.rec.Status())
	assert.Equal(t, 1, sess.Stops())
	assert.True(t, r.rec.Recording(), "recording continues after a network error")

	// audio captured after the error is not fed to the dead session
	r.mic.last().push(pcm)
	assert.Equal(t, len(pcm), sess.Written())

	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, out.Source)
	assert.Equal(t, FallbackNetworkError, out.FallbackReason)
	assert.Equal(t, []string{"12", "14"}, out.RollNumbers.Slice())
	assert.Equal(t, 1, r.stt.Calls())
	assert.Equal(t, 1, sess.Starts(), "no restart after a network error")

	// both chunks reach the backend
	require.Len(t, r.stt.blobs, 1)
	assert.Equal(t, 44+2*len(pcm), len(r.stt.blobs[0].Data))
}

func TestRecognizer_EmptyTranscriptFallsBackToServer(t *testing.T) {
	r := newRig(true)
	r.stt.results = []*RollCallResult{{Text: "5", RollNumbers: []string{"5"}}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	r.local.last().ev.OnResult([]string{"   "})
	r.mic.last().push(pcm)

	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, out.Source)
	assert.Equal(t, FallbackEmptyTranscript, out.FallbackReason)
	assert.Equal(t, []string{"5"}, out.RollNumbers.Slice())
	assert.Zero(t, r.arch.Count())
}

func TestRecognizer_NoLocalRecognizer(t *testing.T) {
	r := newRig(false)
	r.stt.results = []*RollCallResult{{Text: "3 4", RollNumbers: []string{"3", "4"}}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	assert.Equal(t, StatusListening, r.rec.Status())
	_, engaged := r.rec.Transcript()
	assert.False(t, engaged)

	r.mic.last().push(pcm)
	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, out.Source)
	assert.Equal(t, FallbackUnsupported, out.FallbackReason)
	assert.Equal(t, MimeWAV, out.Audio.MimeType)
}

func TestRecognizer_LocalSessionStartFailure(t *testing.T) {
	r := newRig(true)
	r.local.startErr = errors.New("not allowed")
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	assert.Equal(t, StatusListening, r.rec.Status())

	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceServer, out.Source)
	assert.Equal(t, FallbackUnsupported, out.FallbackReason)
}

func TestRecognizer_RestartsEndedSession(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	sess := r.local.last()

	// platform timeout ends the session while still recording
	sess.ev.OnEnd()
	require.Eventually(t, func() bool { return sess.Starts() == 2 }, time.Second, 5*time.Millisecond)

	sess.ev.OnResult([]string{"seven"})
	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, out.RollNumbers.Slice())
}

func TestRecognizer_NoRestartAfterStop(t *testing.T) {
	r := newRig(true)
	r.stt.results = []*RollCallResult{{}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	sess := r.local.last()

	_, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	starts := sess.Starts()

	// a late end event must not bring the session back
	sess.ev.OnEnd()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, starts, sess.Starts())
	assert.Equal(t, 1, starts)
}

func TestRecognizer_EndRacingStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := newRig(true)
		r.stt.results = []*RollCallResult{{}}
		ctx := context.Background()

		require.NoError(t, r.rec.StartRecording(ctx))
		sess := r.local.last()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.ev.OnEnd()
		}()
		_, err := r.rec.StopRecording(ctx)
		require.NoError(t, err)
		starts := sess.Starts()
		wg.Wait()

		time.Sleep(2 * time.Millisecond)
		assert.Equal(t, starts, sess.Starts(), "session started after stop returned")
	}
}

func TestRecognizer_NoSpeechThenSpeech(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	sess := r.local.last()
	sess.ev.OnStart()

	sess.ev.OnError(ErrCodeNoSpeech)
	assert.Equal(t, StatusNoSpeech, r.rec.Status())
	assert.Empty(t, r.rec.LastError())

	sess.ev.OnResult([]string{"nine"})
	assert.Equal(t, StatusListening, r.rec.Status())

	out, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"9"}, out.RollNumbers.Slice())
}

func TestRecognizer_OtherErrorKeepsRecording(t *testing.T) {
	r := newRig(true)
	r.stt.results = []*RollCallResult{{}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	r.local.last().ev.OnError("aborted")

	assert.Equal(t, StatusError, r.rec.Status())
	assert.Equal(t, "Voice Recognition Error: aborted", r.rec.LastError())
	assert.True(t, r.rec.Recording())

	_, err := r.rec.StopRecording(ctx)
	require.NoError(t, err)
}

func TestRecognizer_ServerFailureThenRetry(t *testing.T) {
	r := newRig(false)
	r.stt.errs = []error{errors.New("503 backend down")}
	r.stt.results = []*RollCallResult{nil, {Text: "8", RollNumbers: []string{"8"}}}
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	r.mic.last().push(pcm)

	_, err := r.rec.StopRecording(ctx)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeTranscriptionFailed))
	assert.Equal(t, StatusError, r.rec.Status())
	assert.Contains(t, r.rec.LastError(), "503 backend down")
	assert.False(t, r.rec.Busy())

	out, err := r.rec.RetryTranscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"8"}, out.RollNumbers.Slice())
	require.Len(t, r.stt.blobs, 2)
	assert.Equal(t, r.stt.blobs[0].Data, r.stt.blobs[1].Data)
}

func TestRecognizer_RetryWithoutAudio(t *testing.T) {
	r := newRig(false)
	_, err := r.rec.RetryTranscription(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeFailedPrecondition))
}

func TestRecognizer_ReleaseDuringTranscription(t *testing.T) {
	r := newRig(false)
	r.stt.block = make(chan struct{})
	r.stt.entered = make(chan struct{}, 1)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))

	errCh := make(chan error, 1)
	go func() {
		_, err := r.rec.StopRecording(ctx)
		errCh <- err
	}()
	<-r.stt.entered
	assert.True(t, r.rec.Busy())

	r.rec.Release()
	close(r.stt.block)

	err := <-errCh
	assert.True(t, utils.IsCode(err, utils.CodeClosed))
	assert.False(t, r.rec.Busy())
}

func TestRecognizer_StartConflicts(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	err := r.rec.StartRecording(ctx)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	r.rec.Release()
	assert.False(t, r.rec.Recording())
	assert.Equal(t, 1, r.mic.last().Stopped())
}

func TestRecognizer_MicrophoneDenied(t *testing.T) {
	r := newRig(true)
	r.mic.err = errDenied

	err := r.rec.StartRecording(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeDeviceUnavailable))
	assert.Equal(t, "permission denied", utils.Cause(err))
	assert.Equal(t, StatusError, r.rec.Status())
	assert.False(t, r.rec.Recording())
}

func TestRecognizer_StopWithoutRecording(t *testing.T) {
	r := newRig(true)
	_, err := r.rec.StopRecording(context.Background())
	assert.True(t, utils.IsCode(err, utils.CodeFailedPrecondition))
}

func TestRecognizer_ProcessManual(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	_, err := r.rec.ProcessManual("nobody here")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	require.NoError(t, r.rec.StartRecording(ctx))
	out, err := r.rec.ProcessManual("1, 2 and three")
	require.NoError(t, err)
	assert.Equal(t, SourceManual, out.Source)
	assert.Equal(t, []string{"1", "2", "3"}, out.RollNumbers.Slice())
	assert.False(t, r.rec.Recording(), "manual entry discards the recording")
	assert.Equal(t, 1, r.mic.last().Stopped())
}

func TestRecognizer_ResetClearsState(t *testing.T) {
	r := newRig(true)
	ctx := context.Background()

	require.NoError(t, r.rec.StartRecording(ctx))
	r.local.last().ev.OnResult([]string{"1"})
	r.local.last().ev.OnError("aborted")

	r.rec.Reset()
	text, engaged := r.rec.Transcript()
	assert.Empty(t, text)
	assert.False(t, engaged)
	assert.Empty(t, r.rec.LastError())
	assert.Equal(t, StatusIdle, r.rec.Status())
}

func TestEncodeWAV(t *testing.T) {
	data, err := EncodeWAV(pcm, 16000, 1)
	require.NoError(t, err)
	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, pcm, data[44:])

	_, err = EncodeWAV(pcm, 0, 1)
	assert.Error(t, err)
}
