package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// AssistantChanged is true when voice, style, persona, threshold or the
	// live model changed. These apply at the next session open.
	AssistantChanged bool
	AssistantFields  []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// IsEmpty reports whether nothing relevant changed.
func (d ConfigDiff) IsEmpty() bool {
	return !d.AssistantChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Assistant, new.Assistant
	field := func(name string, changed bool) {
		if changed {
			d.AssistantFields = append(d.AssistantFields, name)
		}
	}
	field("voice", oa.Voice != na.Voice)
	field("response_style", oa.ResponseStyle != na.ResponseStyle)
	field("persona", oa.Persona != na.Persona)
	field("speech_threshold", oa.SpeechThreshold != na.SpeechThreshold)
	field("model", old.Providers.Live.Model != new.Providers.Live.Model)
	d.AssistantChanged = len(d.AssistantFields) > 0

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("providers", !sameProviders(old.Providers, new.Providers))
	restart("store", !sameStore(old.Store, new.Store))
	restart("audio", old.Audio != new.Audio)
	restart("gmail", old.Gmail != new.Gmail)
	restart("mcp", old.MCP != new.MCP)

	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	// The live model is hot-reloadable and tracked as an assistant field.
	al, bl := a.Live, b.Live
	al.Model, bl.Model = "", ""
	if al != bl || a.LLM != b.LLM || len(a.LLMFallbacks) != len(b.LLMFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if a.LLMFallbacks[i] != b.LLMFallbacks[i] {
			return false
		}
	}
	return true
}

func sameStore(a, b StoreConfig) bool {
	if a.Backend != b.Backend || a.Path != b.Path || a.PostgresDSN != b.PostgresDSN || len(a.ImportFiles) != len(b.ImportFiles) {
		return false
	}
	for i := range a.ImportFiles {
		if a.ImportFiles[i] != b.ImportFiles[i] {
			return false
		}
	}
	return true
}
