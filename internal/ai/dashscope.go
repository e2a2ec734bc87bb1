package ai

import "strings"

// defaultDashscopeBaseURL is Alibaba DashScope's OpenAI-compatible-mode
// endpoint; the request/response shapes match openAIProvider exactly, so
// dashscope is wired as a thin config variant rather than a second client.
const defaultDashscopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

func createDashscopeFactory(args interface{}) (IProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultDashscopeBaseURL
	}
	return &openAIProvider{name: "dashscope", apiKey: strings.TrimSpace(cfg.APIKey), baseURL: baseURL}, nil
}

func init() {
	Register("dashscope", createDashscopeFactory)
}
