package probe

// Static is a Prober returning fixed observations. Set the *Err fields to
// an *Unavailable to simulate a failed probe.
type Static struct {
	ID         Identity
	IDErr      error
	Mapping    RawMapping
	MappingErr error
	Caps       RawCapabilities
	CapsErr    error
	Env        EnvironmentHints
}

func (s Static) Identity() (Identity, error) {
	if s.IDErr != nil {
		return Identity{}, s.IDErr
	}
	return s.ID, nil
}

func (s Static) UIDMapping() (RawMapping, error) {
	if s.MappingErr != nil {
		return RawMapping{}, s.MappingErr
	}
	return s.Mapping, nil
}

func (s Static) Capabilities() (RawCapabilities, error) {
	if s.CapsErr != nil {
		return RawCapabilities{}, s.CapsErr
	}
	return s.Caps, nil
}

func (s Static) Environment() EnvironmentHints {
	out := EnvironmentHints{}
	for k, v := range s.Env {
		out[k] = v
	}
	return out
}
