package bench

// completionRequest is the llama.cpp-style completion request body.
// Streaming is always disabled: the benchmark measures whole responses.
type completionRequest struct {
	Prompt   string `json:"prompt"`
	NPredict int    `json:"n_predict"`
	Stream   bool   `json:"stream"`
}

// completionResponse accepts token usage either as top-level fields or
// nested under a usage object, across the field spellings the supported
// server builds emit.
type completionResponse struct {
	Content string `json:"content"`

	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TokensEvaluated  *int `json:"tokens_evaluated"`
	TokensPredicted  *int `json:"tokens_predicted"`

	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
	} `json:"usage"`
}

// usage extracts the prompt/completion token counts. ok is false when
// the response carries no usable usage fields, which marks the service
// abnormal.
func (r *completionResponse) usage() (promptN, predictedN int, ok bool) {
	if r.Usage != nil && r.Usage.PromptTokens != nil && r.Usage.CompletionTokens != nil {
		return *r.Usage.PromptTokens, *r.Usage.CompletionTokens, true
	}
	if r.PromptTokens != nil && r.CompletionTokens != nil {
		return *r.PromptTokens, *r.CompletionTokens, true
	}
	if r.TokensEvaluated != nil && r.TokensPredicted != nil {
		return *r.TokensEvaluated, *r.TokensPredicted, true
	}
	return 0, 0, false
}
