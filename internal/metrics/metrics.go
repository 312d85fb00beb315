package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "villaops_agent_turns_started_total",
		Help: "Number of agent turns admitted and started.",
	})

	TurnsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "villaops_agent_turns_failed_total",
		Help: "Number of agent turns that ended with an error event.",
	})

	TokensStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "villaops_agent_tokens_streamed_total",
		Help: "Number of token events emitted to clients.",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "villaops_agent_tool_calls_total",
		Help: "Number of tool invocations recorded, by tool name.",
	}, []string{"tool"})

	Interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "villaops_agent_interrupts_total",
		Help: "Number of turns paused awaiting confirmation of a destructive tool.",
	})
)
