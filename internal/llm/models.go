package llm

// DefaultModelID is used when a session does not name a model.
const DefaultModelID = "local-model"

// ModelInfo describes a catalogue entry.
type ModelInfo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Backend       Backend `json:"backend"`
	ContextWindow int     `json:"contextWindow"`
}

// Models is the built-in catalogue offered when creating chats.
var Models = []ModelInfo{
	{ID: "local-model", Name: "Local Model", Description: "Whatever model the API server has loaded", Backend: BackendAPI, ContextWindow: 4096},
	{ID: "llama-3-8b-instruct", Name: "Llama 3 8B Instruct", Description: "Meta Llama 3, 8B instruction tuned", Backend: BackendAPI, ContextWindow: 8192},
	{ID: "mistral-7b-instruct", Name: "Mistral 7B Instruct", Description: "Mistral 7B instruction tuned", Backend: BackendAPI, ContextWindow: 32768},
	{ID: "Xenova/TinyLlama-1.1B-Chat-v1.0", Name: "TinyLlama 1.1B Chat", Description: "Small chat model for the local runtime", Backend: BackendLocal, ContextWindow: 2048},
	{ID: "Xenova/Qwen1.5-0.5B-Chat", Name: "Qwen1.5 0.5B Chat", Description: "Tiny chat model for the local runtime", Backend: BackendLocal, ContextWindow: 32768},
}

// LookupModel finds a catalogue entry by id.
func LookupModel(id string) (ModelInfo, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
