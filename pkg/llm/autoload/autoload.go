// Package autoload registers every built-in LLM provider.
package autoload

import (
	_ "merilcat/pkg/llm/gemini"
	_ "merilcat/pkg/llm/ollama"
	_ "merilcat/pkg/llm/openailm"
)
