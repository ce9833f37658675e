package calltrace

// Phase is the trace-event phase of a record.
type Phase string

const (
	PhaseBegin    Phase = "B"
	PhaseEnd      Phase = "E"
	PhaseMetadata Phase = "M"
)

// Default metadata names.
const (
	DefaultProcessName = "go"
	DefaultThreadName  = "main"
)

// Span is one reconciled begin or end record.
// TS is in microseconds relative to the session's base timestamp.
type Span struct {
	Args     map[string]string
	Name     Name
	Category Category
	Phase    Phase
	TS       float64
}

// Record is the serialized form of a span or metadata entry.
//
//nolint:govet // Field order is the output key order
type Record struct {
	Name string            `json:"name"`
	Cat  string            `json:"cat,omitempty"`
	Ph   Phase             `json:"ph"`
	TS   *float64          `json:"ts,omitempty"`
	PID  int               `json:"pid"`
	TID  int               `json:"tid"`
	Args map[string]string `json:"args"`
}

// Record converts the span to its serialized form.
func (s *Span) Record() Record {
	ts := s.TS
	args := s.Args
	if args == nil {
		args = map[string]string{}
	}
	return Record{
		Name: s.Name,
		Cat:  s.Category,
		Ph:   s.Phase,
		TS:   &ts,
		Args: args,
	}
}

// Trace is the reconciled span list of one session plus the process and
// thread names reported in its metadata records.
// A Trace is not modified by Encode or WriteFile.
type Trace struct {
	ProcessName string
	ThreadName  string
	Spans       []Span
}

// NewTrace creates a trace with the default metadata names.
func NewTrace(spans []Span) *Trace {
	return &Trace{
		Spans:       spans,
		ProcessName: DefaultProcessName,
		ThreadName:  DefaultThreadName,
	}
}

// Records returns the spans in order followed by exactly two metadata records.
func (t *Trace) Records() []Record {
	records := make([]Record, 0, len(t.Spans)+2)
	for i := range t.Spans {
		records = append(records, t.Spans[i].Record())
	}
	return append(records,
		metadata("process_name", orDefault(t.ProcessName, DefaultProcessName)),
		metadata("thread_name", orDefault(t.ThreadName, DefaultThreadName)),
	)
}

// Pairs returns the number of begin records in the trace.
func (t *Trace) Pairs() int {
	n := 0
	for i := range t.Spans {
		if t.Spans[i].Phase == PhaseBegin {
			n++
		}
	}
	return n
}

func metadata(name, value string) Record {
	return Record{
		Name: name,
		Ph:   PhaseMetadata,
		Args: map[string]string{"name": value},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
