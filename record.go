package calltrace

import (
	"bufio"
	"fmt"
	"os"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// RecordingVersion is the format version written by WriteRecording.
const RecordingVersion = 1

// Recording is a raw notification stream captured by a session, reconcilable
// offline. Code objects are shared between notifications of the same routine.
type Recording struct {
	Notifications []Notification
	Base          int64
	Version       int
}

type recordingFile struct {
	Codes   []recordedCode  `msgpack:"codes"`
	Events  []recordedEvent `msgpack:"events"`
	Base    int64           `msgpack:"base"`
	Version int             `msgpack:"version"`
}

type recordedCode struct {
	Filename  string         `msgpack:"file"`
	QualName  string         `msgpack:"qual"`
	Lines     []recordedLine `msgpack:"lines"`
	FirstLine uint32         `msgpack:"first"`
}

type recordedLine struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused // encoding directive
	Start    uint32
	Line     uint32
}

type recordedEvent struct {
	KindName string `msgpack:"kn,omitempty"`
	Name     string `msgpack:"n,omitempty"`
	Repr     string `msgpack:"r,omitempty"`
	Arg      string `msgpack:"a,omitempty"`
	TS       int64  `msgpack:"t"`
	Code     int32  `msgpack:"c"`
	Offset   uint32 `msgpack:"o"`
	Kind     uint8  `msgpack:"k"`
	Target   uint8  `msgpack:"g"`
}

// WriteRecording atomically writes a raw notification stream to path.
// Weak targets are resolved to their display names at this point.
func WriteRecording(path string, base int64, ns []Notification) error {
	return writeRecording(path, base, ns, NewResolver())
}

func writeRecording(path string, base int64, ns []Notification, r *Resolver) error {
	file := recordingFile{
		Version: RecordingVersion,
		Base:    base,
		Events:  make([]recordedEvent, 0, len(ns)),
	}

	index := make(map[*Code]int32)
	for i := range ns {
		n := &ns[i]
		ev := recordedEvent{
			Kind:     uint8(n.Kind),
			TS:       n.TS,
			Code:     -1,
			Arg:      n.Arg,
			Target:   uint8(n.Target.Kind),
			KindName: n.Target.KindName,
			Repr:     n.Target.Repr,
		}
		if n.Kind != EventFrameStart && n.Kind != EventFrameReturn {
			ev.Name = r.Name(n.Target)
		}

		offset, err := safecast.Conv[uint32](n.Loc.Offset)
		if err != nil {
			return fmt.Errorf("record notification %d: offset: %w", i, err)
		}
		ev.Offset = offset

		if code := n.Loc.Code; code != nil {
			idx, ok := index[code]
			if !ok {
				rc, err := recordCode(code)
				if err != nil {
					return fmt.Errorf("record notification %d: %w", i, err)
				}
				idx, err = safecast.Conv[int32](len(file.Codes))
				if err != nil {
					return fmt.Errorf("record notification %d: code index: %w", i, err)
				}
				index[code] = idx
				file.Codes = append(file.Codes, rc)
			}
			ev.Code = idx
		}
		file.Events = append(file.Events, ev)
	}

	data, err := msgpack.Marshal(&file)
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	return writeAtomic(path, data)
}

func recordCode(code *Code) (recordedCode, error) {
	first, err := safecast.Conv[uint32](code.FirstLine)
	if err != nil {
		return recordedCode{}, fmt.Errorf("code %s: first line: %w", code.QualName, err)
	}
	rc := recordedCode{
		Filename:  code.Filename,
		QualName:  code.QualName,
		FirstLine: first,
		Lines:     make([]recordedLine, 0, len(code.Lines)),
	}
	for _, e := range code.Lines {
		start, err := safecast.Conv[uint32](e.Start)
		if err != nil {
			return recordedCode{}, fmt.Errorf("code %s: line boundary: %w", code.QualName, err)
		}
		line, err := safecast.Conv[uint32](e.Line)
		if err != nil {
			return recordedCode{}, fmt.Errorf("code %s: line: %w", code.QualName, err)
		}
		rc.Lines = append(rc.Lines, recordedLine{Start: start, Line: line})
	}
	return rc, nil
}

// ReadRecording loads a recording written by WriteRecording.
func ReadRecording(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var file recordingFile
	if err := msgpack.NewDecoder(bufio.NewReader(f)).Decode(&file); err != nil {
		return nil, fmt.Errorf("%s: decode recording: %w", path, err)
	}
	if file.Version != RecordingVersion {
		return nil, fmt.Errorf("%s: unsupported recording version %d (expected %d)", path, file.Version, RecordingVersion)
	}

	codes := make([]*Code, len(file.Codes))
	for i, rc := range file.Codes {
		code := &Code{
			Filename:  rc.Filename,
			QualName:  rc.QualName,
			FirstLine: int(rc.FirstLine),
			Lines:     make([]LineEntry, len(rc.Lines)),
		}
		for j, l := range rc.Lines {
			code.Lines[j] = LineEntry{Start: int(l.Start), Line: int(l.Line)}
		}
		codes[i] = code
	}

	rec := &Recording{
		Version:       file.Version,
		Base:          file.Base,
		Notifications: make([]Notification, len(file.Events)),
	}
	for i, ev := range file.Events {
		kind := EventKind(ev.Kind)
		if kind < EventCall || kind > EventFrameReturn {
			return nil, fmt.Errorf("%s: event %d: invalid kind %d", path, i, ev.Kind)
		}
		if ev.Target > uint8(KindType) {
			return nil, fmt.Errorf("%s: event %d: invalid target kind %d", path, i, ev.Target)
		}
		n := Notification{
			Kind: kind,
			TS:   ev.TS,
			Arg:  ev.Arg,
			Loc:  Location{Offset: int(ev.Offset)},
			Target: Target{
				Kind:     TargetKind(ev.Target),
				KindName: ev.KindName,
				QualName: ev.Name,
				Repr:     ev.Repr,
			},
		}
		if ev.Code >= 0 {
			if int(ev.Code) >= len(codes) {
				return nil, fmt.Errorf("%s: event %d: code index %d out of range", path, i, ev.Code)
			}
			n.Loc.Code = codes[ev.Code]
		}
		rec.Notifications[i] = n
	}
	return rec, nil
}

// Source returns a Source that replays the recording.
func (r *Recording) Source() *ReplaySource {
	return &ReplaySource{rec: r}
}

// ReplaySource delivers a recorded stream to its subscriber on Play.
type ReplaySource struct {
	rec  *Recording
	sink Sink
}

// Subscribe sets the sink that Play delivers to.
func (r *ReplaySource) Subscribe(sink Sink) error {
	if sink == nil {
		return ErrNotSubscribed
	}
	if r.sink != nil && r.sink != sink {
		return ErrAlreadySubscribed
	}
	r.sink = sink
	return nil
}

// Unsubscribe detaches the sink.
func (r *ReplaySource) Unsubscribe() error {
	r.sink = nil
	return nil
}

// Now returns the recorded session base, so replayed timestamps keep their
// original offsets.
func (r *ReplaySource) Now() int64 {
	return r.rec.Base
}

// Play delivers every recorded notification in order.
func (r *ReplaySource) Play() error {
	if r.sink == nil {
		return ErrNotSubscribed
	}
	for _, n := range r.rec.Notifications {
		r.sink.Deliver(n)
	}
	return nil
}
