package calltrace

// Synthetic notification builders. A call made at file:line resolves to
// "file:line:callee"; a frame whose code starts at file:line resolves to the
// same name, so calls and frames of one routine can close each other.

func siteCode(file string, line int) *Code {
	return &Code{
		Filename:  file,
		QualName:  "caller",
		FirstLine: line,
		Lines:     []LineEntry{{Start: 0, Line: line}},
	}
}

func frameCode(file string, line int, name string) *Code {
	return &Code{Filename: file, QualName: name, FirstLine: line}
}

func callN(ts int64, file string, line int, callee string) Notification {
	return Notification{
		Kind:   EventCall,
		TS:     ts,
		Loc:    Location{Code: siteCode(file, line)},
		Target: Target{Kind: KindFunction, QualName: callee},
		Arg:    Missing,
	}
}

func builtinCall(ts int64, file string, line int, callee string) Notification {
	n := callN(ts, file, line, callee)
	n.Target = Builtin(callee)
	n.Arg = "int"
	return n
}

func cReturn(ts int64, file string, line int, callee string) Notification {
	n := builtinCall(ts, file, line, callee)
	n.Kind = EventCReturn
	return n
}

func cRaise(ts int64, file string, line int, callee string) Notification {
	n := builtinCall(ts, file, line, callee)
	n.Kind = EventCRaise
	return n
}

func frameStart(ts int64, code *Code) Notification {
	return Notification{Kind: EventFrameStart, TS: ts, Loc: Location{Code: code}}
}

func frameReturn(ts int64, code *Code) Notification {
	return Notification{Kind: EventFrameReturn, TS: ts, Loc: Location{Code: code}, Arg: "nil"}
}

func spanNames(spans []Span) []string {
	out := make([]string, len(spans))
	for i := range spans {
		out[i] = string(spans[i].Phase) + " " + spans[i].Name
	}
	return out
}
