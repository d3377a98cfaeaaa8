package speech

// VoiceRegistry resolves requested voice names against the configured set.
// An item may ask for any voice; an unknown name silently falls back to
// the engine default rather than failing the session.
type VoiceRegistry struct {
	known        map[string]struct{}
	defaultVoice string
}

func NewVoiceRegistry(defaultVoice string, voices []string) *VoiceRegistry {
	known := make(map[string]struct{}, len(voices)+1)
	known[defaultVoice] = struct{}{}
	for _, v := range voices {
		known[v] = struct{}{}
	}
	return &VoiceRegistry{known: known, defaultVoice: defaultVoice}
}

// Resolve maps a requested voice to a usable one. Empty and unknown names
// resolve to the default.
func (r *VoiceRegistry) Resolve(name string) string {
	if name == "" {
		return r.defaultVoice
	}
	if _, ok := r.known[name]; ok {
		return name
	}
	return r.defaultVoice
}

// Default returns the engine default voice.
func (r *VoiceRegistry) Default() string { return r.defaultVoice }
