// Package hearth is the control-plane core of a voice assistant.
//
// Hearth accepts natural-language queries over an OpenAI-compatible HTTP
// surface, classifies them, and routes them to the fastest pathway that can
// answer: local smart-home control, a parallel web-search fan-out, or a
// direct LLM call against local or cloud inference backends. Answers stream
// back with an immediate spoken acknowledgment so speech synthesis can start
// before the real tokens arrive.
//
// # Quick Start
//
// Install Hearth:
//
//	go install github.com/hearthd/hearth/cmd/hearth@latest
//
// Create a configuration:
//
//	server:
//	  host: "0.0.0.0"
//	  port: 8090
//
//	backends:
//	  fast:
//	    provider: "ollama"
//	    model: "llama3.2:3b"
//	  gpt-4o:
//	    provider: "openai"
//	    model: "gpt-4o-mini"
//	    api_key: "${OPENAI_API_KEY}"
//
// Start the server:
//
//	hearth serve --config hearth.yaml
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/hearthd/hearth/pkg/gateway"
//	    "github.com/hearthd/hearth/pkg/llms"
//	    "github.com/hearthd/hearth/pkg/semcache"
//	)
//
// # Key Components
//
//   - Gateway: admission control, intent pre-routing, ack-streaming
//   - LLM Router: five native provider wire formats, cost accounting
//   - Semantic Cache: canonical keys, category TTLs, never-cache rules
//   - Parallel Search: deadline-bounded provider fan-out with fusion
//   - Smart-Home Controller: rule-engine intent extraction and dispatch
//   - Configuration Plane: push-invalidated cached snapshots
//
// # Architecture
//
//	Client → Gateway → { SmartHome | Search | LLM Router } → Backends
//
// Latency is the primary quality dimension: the first audible token is
// synthesised locally while remote work is still in flight.
package hearth
