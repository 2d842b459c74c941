// Package agent builds declarative, invokable agents on top of a model provider.
//
// An agent turns a string input into free text, schema-validated structured
// data, or the result of a tool-calling loop, optionally followed by a fan-out
// to sub-agents. Agents are compiled once with Create and are safe to invoke
// concurrently.
//
// # Basic Usage
//
//	summarizer, err := agent.Create(ctx, agent.Definition{
//	    Name:         "summarizer",
//	    SystemPrompt: "Summarize the text in two sentences.",
//	}, agent.ModelConfig{Provider: p, Model: "gpt-4o-mini"})
//
//	out, err := summarizer.Invoke(ctx, text)
//	fmt.Println(out.Text())
//
// # Sub-agents
//
// Sub-agents are declared as ordered batches. Batches run one after another;
// entries inside a batch run concurrently and receive the parent's response
// as input. Results are merged under each entry's key:
//
//	parent, err := agent.Create(ctx, agent.Definition{
//	    Name:         "plan",
//	    SystemPrompt: "...",
//	    SubAgents: []agent.Batch{
//	        {{Key: "formatted", Agent: formatter}, {Key: "message", Agent: messenger}},
//	        {{Key: "review", Agent: reviewer}},
//	    },
//	}, model)
//
// A later batch that reuses a key replaces the earlier result. The key
// "response" is reserved for the parent's own output.
//
// # Tools
//
// When Tools is non-empty the agent runs a bounded tool loop (see
// ExecuteToolLoop) and any Schema is ignored.
package agent
