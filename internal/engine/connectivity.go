package engine

// The connectivity flag has no hysteresis: any failed stream event or write
// clears it and the next snapshot or successful write sets it again. The
// phase is derived from it on every publish.

func (e *Engine) setConnected(up bool) {
	if e.st.connected != up {
		e.log.Infow("Connectivity changed", "user", e.st.user, "connected", up)
	}
	e.st.connected = up
	e.metrics.Connected(up)
}

// phase derives the lifecycle phase from the loop state.
func (e *Engine) phase() Phase {
	switch {
	case e.st.user == "":
		return PhaseUninitialized
	case e.st.misconfigured:
		return PhaseError
	case e.st.loading:
		return PhaseLoading
	case e.st.connected:
		return PhaseSynced
	default:
		return PhaseDisconnected
	}
}

// setError shows err until a later success of the same kind clears it.
func (e *Engine) setError(kind, err error) {
	e.st.errKind = kind
	e.st.errMsg = err.Error()
}

func (e *Engine) clearError(kind error) {
	if e.st.errKind == kind {
		e.st.errKind = nil
		e.st.errMsg = ""
	}
}
