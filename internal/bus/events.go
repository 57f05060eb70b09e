package bus

// Stable event names emitted by the engine. External consumers (the web
// inspector, the NATS bridge, the run store) key off these strings.
const (
	EventExecutionStarted   = "execution-started"
	EventExecutionCompleted = "execution-completed"
	EventExecutionFailed    = "execution-failed"
	EventExecutionRetry     = "execution-retry"
	EventExecutionCancelled = "execution-cancelled"

	EventAutoPatternStarted   = "autoPatternStarted"
	EventAutoPatternMatched   = "autoPatternMatched"
	EventAutoPatternFallback  = "autoPatternFallback"
	EventAutoPatternCompleted = "autoPatternCompleted"

	EventSwarmStarted       = "swarmStarted"
	EventSwarmBatchStarted  = "swarmBatchStarted"
	EventSwarmTaskCompleted = "swarmTaskCompleted"
	EventSwarmTaskFailed    = "swarmTaskFailed"
	EventSwarmTaskReplanned = "swarmTaskReplanned"
	EventSwarmReplanFailed  = "swarmReplanFailed"
	EventSwarmCompleted     = "swarmCompleted"
	EventSwarmFailed        = "swarmFailed"

	EventGroupChatStarted        = "groupChatStarted"
	EventGroupChatRoundStarted   = "groupChatRoundStarted"
	EventGroupChatResponse       = "groupChatResponse"
	EventGroupChatRoundCompleted = "groupChatRoundCompleted"
	EventGroupChatCompleted      = "groupChatCompleted"
	EventGroupChatFailed         = "groupChatFailed"

	EventHumanInLoopStarted       = "humanInLoopStarted"
	EventHumanInLoopStepStarted   = "humanInLoopStepStarted"
	EventHumanInLoopStepCompleted = "humanInLoopStepCompleted"
	EventHumanInLoopStepFailed    = "humanInLoopStepFailed"
	EventHumanInLoopGateReached   = "humanInLoopGateReached"
	EventHumanInLoopAborted       = "humanInLoopAborted"
	EventHumanInLoopCompleted     = "humanInLoopCompleted"

	EventTriageStarted    = "triage:started"
	EventTriageClassified = "triage:classified"
	EventTriageCompleted  = "triage:completed"

	EventHandoffStarted   = "handoff:started"
	EventHandoffCompleted = "handoff:completed"

	EventWorkflowStarted       = "workflowStarted"
	EventWorkflowStepStarted   = "workflowStepStarted"
	EventWorkflowStepCompleted = "workflowStepCompleted"
	EventWorkflowCompleted     = "workflowCompleted"
	EventWorkflowFailed        = "workflowFailed"

	EventAgentRegistered    = "agent-registered"
	EventAgentUnregistered  = "agent-unregistered"
	EventAgentStatusChanged = "agent-status-changed"
	EventAgentAcquired      = "agent-acquired"
	EventAgentReleased      = "agent-released"
	EventSkillBound         = "skill-bound"
	EventSkillUnbound       = "skill-unbound"

	EventRetry       = "retry"
	EventError       = "error"
	EventStateChange = "state-change"
)
